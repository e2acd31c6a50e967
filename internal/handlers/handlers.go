package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cropguard-api/internal/labels"
	"github.com/Brownie44l1/cropguard-api/internal/metrics"
	"github.com/Brownie44l1/cropguard-api/internal/pipeline"
	"github.com/Brownie44l1/cropguard-api/internal/preprocess"
)

const (
	MB = 1 << 20

	fileField  = "file"
	filesField = "files"

	// multipart parts above this are spooled to disk
	maxMemory = 32 * MB
)

// Predictor is the inference side of the API.
type Predictor interface {
	Classify(ctx context.Context, img image.Image) (pipeline.Prediction, error)
	ClassifyBatch(ctx context.Context, items []pipeline.Item) ([]pipeline.Prediction, error)
}

type Handler struct {
	predictor     Predictor
	logger        *zap.Logger
	metrics       *metrics.Metrics
	maxUploadSize int64
}

func NewHandler(predictor Predictor, logger *zap.Logger, m *metrics.Metrics, maxUploadSizeMB int64) *Handler {
	return &Handler{
		predictor:     predictor,
		logger:        logger.Named("handlers"),
		metrics:       m,
		maxUploadSize: maxUploadSizeMB * MB,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// LabelsResponse lists both label spaces in model output order.
type LabelsResponse struct {
	Crops    []labels.Crop                    `json:"crops"`
	Diseases map[labels.Crop][]labels.Disease `json:"diseases"`
}

func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		makeJSONResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "use GET")
		return
	}

	resp := LabelsResponse{
		Crops:    labels.Crops(),
		Diseases: make(map[labels.Crop][]labels.Disease, labels.NumCrops()),
	}
	for _, c := range resp.Crops {
		resp.Diseases[c], _ = labels.Diseases(c)
	}
	writeJSON(w, resp)
}

// Predict classifies the single image uploaded in the "file" field.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/predict/"

	if !h.parseUpload(w, r, endpoint) {
		return
	}

	headers := r.MultipartForm.File[fileField]
	if len(headers) == 0 {
		h.fail(w, endpoint, http.StatusBadRequest, "bad_request", "Missing file",
			fmt.Sprintf("no image provided, use %q as the form field name", fileField))
		return
	}
	header := headers[0]

	img, err := readImage(header)
	if err != nil {
		h.decodeFailure(w, endpoint, header.Filename, err)
		return
	}

	h.logger.Debug("received file",
		zap.String("file", header.Filename),
		zap.Int64("size", header.Size),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	result, err := h.predictor.Classify(r.Context(), img)
	if err != nil {
		h.logger.Error("prediction failed", zap.String("file", header.Filename), zap.Error(err))
		h.fail(w, endpoint, http.StatusInternalServerError, "internal", "Prediction failed", "inference error")
		return
	}

	writeJSON(w, result)
}

// PredictBatch classifies every image uploaded in the "files" field and
// answers in upload order. An undecodable image fails the whole batch.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/predict_batch/"

	if !h.parseUpload(w, r, endpoint) {
		return
	}

	headers := r.MultipartForm.File[filesField]
	if len(headers) == 0 {
		h.fail(w, endpoint, http.StatusBadRequest, "bad_request", "Missing files",
			fmt.Sprintf("no images provided, use %q as the form field name", filesField))
		return
	}

	items := make([]pipeline.Item, 0, len(headers))
	for _, header := range headers {
		img, err := readImage(header)
		if err != nil {
			h.decodeFailure(w, endpoint, header.Filename, err)
			return
		}
		items = append(items, pipeline.Item{File: header.Filename, Image: img})
	}

	results, err := h.predictor.ClassifyBatch(r.Context(), items)
	if err != nil {
		h.logger.Error("batch prediction failed", zap.Int("files", len(items)), zap.Error(err))
		h.fail(w, endpoint, http.StatusInternalServerError, "internal", "Prediction failed", "inference error")
		return
	}

	writeJSON(w, results)
}

// parseUpload enforces POST and the upload size limit and parses the
// multipart form. It writes the error response itself and reports whether
// the handler should continue.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if r.Method != http.MethodPost {
		h.fail(w, endpoint, http.StatusMethodNotAllowed, "method", "Method not allowed", "use POST")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, endpoint, http.StatusRequestEntityTooLarge, "too_large", "Upload too large",
				fmt.Sprintf("uploads are limited to %d MB", h.maxUploadSize/MB))
			return false
		}
		h.fail(w, endpoint, http.StatusBadRequest, "bad_request", "Failed to parse form", "expected multipart/form-data")
		return false
	}
	return true
}

func (h *Handler) decodeFailure(w http.ResponseWriter, endpoint, file string, err error) {
	h.logger.Info("rejected upload", zap.String("file", file), zap.Error(err))
	h.fail(w, endpoint, http.StatusBadRequest, "decode", "Invalid image",
		fmt.Sprintf("file %q: %v", file, err))
}

func (h *Handler) fail(w http.ResponseWriter, endpoint string, status int, kind, title, detail string) {
	h.metrics.RequestError(endpoint, kind)
	makeJSONResponse(w, status, title, detail)
}

func readImage(header *multipart.FileHeader) (image.Image, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", preprocess.ErrDecode, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", preprocess.ErrDecode, err)
	}
	return preprocess.Decode(data)
}
