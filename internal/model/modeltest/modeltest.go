// Package modeltest provides scripted classifiers for tests that must run
// without ONNX Runtime.
package modeltest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/cropguard-api/internal/config"
	"github.com/Brownie44l1/cropguard-api/internal/labels"
	"github.com/Brownie44l1/cropguard-api/internal/model"
	"github.com/Brownie44l1/cropguard-api/internal/preprocess"
)

// Func is a classifier whose scores are computed by F.
type Func struct {
	N int
	F func(t *preprocess.Tensor) []float32

	calls  atomic.Int64
	closed atomic.Bool
}

func (f *Func) Forward(t *preprocess.Tensor) ([]float32, error) {
	f.calls.Add(1)
	return f.F(t), nil
}

func (f *Func) NumClasses() int { return f.N }

func (f *Func) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls is the number of Forward invocations.
func (f *Func) Calls() int64 { return f.calls.Load() }

// Closed reports whether Close was called.
func (f *Func) Closed() bool { return f.closed.Load() }

// Scripted returns the same scores for every input.
func Scripted(scores ...float32) *Func {
	out := append([]float32(nil), scores...)
	return &Func{
		N: len(out),
		F: func(*preprocess.Tensor) []float32 { return append([]float32(nil), out...) },
	}
}

// Failing is a classifier whose Forward always returns err.
type Failing struct {
	N   int
	Err error
}

func (f *Failing) Forward(*preprocess.Tensor) ([]float32, error) { return nil, f.Err }
func (f *Failing) NumClasses() int                               { return f.N }
func (f *Failing) Close() error                                  { return nil }

// OneHot returns n scores with a single 1 at idx.
func OneHot(n, idx int) []float32 {
	s := make([]float32, n)
	s[idx] = 1
	return s
}

// Fixed builds a registry whose crop identifier always picks crop and whose
// disease models always pick index diseaseIdx (clamped to each table).
func Fixed(t testing.TB, crop labels.Crop, diseaseIdx int) *model.Registry {
	t.Helper()

	cropIdx := -1
	for i, c := range labels.Crops() {
		if c == crop {
			cropIdx = i
		}
	}
	if cropIdx < 0 {
		t.Fatalf("unknown crop %q", crop)
	}

	diseases := make(map[labels.Crop]model.Classifier)
	for _, c := range labels.Crops() {
		n := labels.NumDiseases(c)
		diseases[c] = Scripted(OneHot(n, min(diseaseIdx, n-1))...)
	}

	r, err := model.NewRegistry(Scripted(OneHot(labels.NumCrops(), cropIdx)...), diseases)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// ByContent builds a registry whose choices depend on the tensor: the crop
// and disease indices are derived from the first pixel of the red channel.
// Different images can therefore land on different crops.
func ByContent(t testing.TB) *model.Registry {
	t.Helper()

	pick := func(n int) func(*preprocess.Tensor) []float32 {
		return func(in *preprocess.Tensor) []float32 {
			idx := int(in.Data[0]*255) % n
			return OneHot(n, idx)
		}
	}

	diseases := make(map[labels.Crop]model.Classifier)
	for _, c := range labels.Crops() {
		n := labels.NumDiseases(c)
		diseases[c] = &Func{N: n, F: pick(n)}
	}

	r, err := model.NewRegistry(&Func{N: labels.NumCrops(), F: pick(labels.NumCrops())}, diseases)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// Loader hands out scripted classifiers of the requested width and records
// every path it was asked to load.
type Loader struct {
	// FailOn makes Load fail for this path.
	FailOn string

	mu     sync.Mutex
	Paths  []string
	Loaded []*Func
}

func (l *Loader) Load(path string, numClasses int) (model.Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Paths = append(l.Paths, path)
	if path == l.FailOn {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrModelLoad, path, errors.New("shape mismatch"))
	}
	f := Scripted(make([]float32, numClasses)...)
	l.Loaded = append(l.Loaded, f)
	return f, nil
}

// WeightsDir creates empty weight files for every model cfg names, under a
// fresh temporary directory, and returns cfg pointing at it.
func WeightsDir(t testing.TB) config.ModelConfig {
	t.Helper()

	cfg := config.ModelConfig{
		Dir:            t.TempDir(),
		CropIdentifier: "mobilevit_crop_identifier_epoch10.onnx",
		DiseasePattern: "mobilevit_%s_epoch10.onnx",
		Device:         "cpu",
	}

	paths := []string{model.CropIdentifierPath(cfg)}
	for _, c := range labels.Crops() {
		paths = append(paths, model.DiseaseModelPath(cfg, c))
	}
	for _, p := range paths {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

// Remove deletes the weights file of crop's disease model from cfg.Dir.
func Remove(t testing.TB, cfg config.ModelConfig, crop labels.Crop) {
	t.Helper()
	if err := os.Remove(filepath.Clean(model.DiseaseModelPath(cfg, crop))); err != nil {
		t.Fatal(err)
	}
}
