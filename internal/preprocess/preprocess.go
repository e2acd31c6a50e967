package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	// Size is the edge length both model families expect.
	Size     = 256
	Channels = 3

	// MaxPixels bounds width*height of an upload before its pixels are
	// allocated. Same threshold as PIL's decompression bomb check.
	MaxPixels = 178956970
)

type format struct {
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

// formats maps sniffed content types to their decoders.
var formats = map[string]format{
	"image/png":  {png.Decode, png.DecodeConfig},
	"image/jpeg": {jpeg.Decode, jpeg.DecodeConfig},
	"image/gif":  {gif.Decode, gif.DecodeConfig},
	"image/bmp":  {bmp.Decode, bmp.DecodeConfig},
	"image/tiff": {tiff.Decode, tiff.DecodeConfig},
	"image/webp": {webp.Decode, webp.DecodeConfig},
}

// ErrDecode is returned when uploaded bytes are not a decodable image.
var ErrDecode = errors.New("invalid image")

// Tensor is a single image laid out as [1, 3, Size, Size] float32 values in
// [0, 1], channel-major.
type Tensor struct {
	Data []float32
}

// Shape returns the NCHW shape of t.
func (t *Tensor) Shape() []int64 {
	return []int64{1, Channels, Size, Size}
}

// Decode sniffs the content type of an upload, checks its declared
// dimensions and decodes it with the matching decoder.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecode)
	}

	mime := strings.Split(mimetype.Detect(data).String(), ";")[0]
	f, ok := formats[mime]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrDecode, mime)
	}

	cfg, err := f.config(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d image", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}

	img, err := f.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// FromBytes decodes data and transforms it into a model input tensor.
func FromBytes(data []byte) (*Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Transform(img), nil
}

// Transform converts img to RGB, stretches it to Size x Size and scales
// every channel to [0, 1].
func Transform(img image.Image) *Tensor {
	resized := resize.Resize(Size, Size, toRGB(img), resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, Channels*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}

	return &Tensor{Data: data}
}

// toRGB drops the alpha channel and keeps the stored colour of transparent
// pixels. Opaque images are returned unchanged since their premultiplied and
// straight colours coincide.
func toRGB(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Paletted:
		opaque := make([]color.RGBA, len(src.Palette))
		for i, c := range src.Palette {
			opaque[i] = straightRGB(c)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.RGBA{A: 0xff}
				if idx := int(src.ColorIndexAt(x, y)); idx < len(opaque) {
					c = opaque[idx]
				}
				dst.SetRGBA(x-b.Min.X, y-b.Min.Y, c)
			}
		}
		return dst
	case *image.NRGBA64:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.SetRGBA(x-b.Min.X, y-b.Min.Y, straightRGB(src.NRGBA64At(x, y)))
			}
		}
		return dst
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := dst.PixOffset(0, y)
			for x := 0; x < b.Dx(); x++ {
				dst.Pix[di+0] = src.Pix[si+0]
				dst.Pix[di+1] = src.Pix[si+1]
				dst.Pix[di+2] = src.Pix[si+2]
				dst.Pix[di+3] = 0xff
				si += 4
				di += 4
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, straightRGB(img.At(x, y)))
		}
	}
	return dst
}

// straightRGB returns c without alpha. Straight-alpha colours keep their
// stored channels, anything else is unpremultiplied first.
func straightRGB(c color.Color) color.RGBA {
	switch v := c.(type) {
	case color.NRGBA:
		return color.RGBA{R: v.R, G: v.G, B: v.B, A: 0xff}
	case color.NRGBA64:
		return color.RGBA{R: uint8(v.R >> 8), G: uint8(v.G >> 8), B: uint8(v.B >> 8), A: 0xff}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return color.RGBA{R: n.R, G: n.G, B: n.B, A: 0xff}
}
