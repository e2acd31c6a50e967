package model

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cropguard-api/internal/config"
	"github.com/Brownie44l1/cropguard-api/internal/labels"
)

// Registry holds the crop identifier and one disease model per crop. It is
// built once at startup and never mutated afterwards.
type Registry struct {
	crop     Classifier
	diseases map[labels.Crop]Classifier
}

// NewRegistry checks that crop scores the whole crop label space and that
// every crop has exactly one disease model of matching width.
func NewRegistry(crop Classifier, diseases map[labels.Crop]Classifier) (*Registry, error) {
	if crop == nil {
		return nil, fmt.Errorf("%w: crop identifier missing", ErrModelLoad)
	}
	if crop.NumClasses() != labels.NumCrops() {
		return nil, fmt.Errorf("%w: crop identifier has %d classes, want %d",
			ErrModelLoad, crop.NumClasses(), labels.NumCrops())
	}

	table := make(map[labels.Crop]Classifier, len(diseases))
	for c, m := range diseases {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: disease model registered for %q", ErrUnknownCrop, c)
		}
		table[c] = m
	}
	for _, c := range labels.Crops() {
		m, ok := table[c]
		if !ok || m == nil {
			return nil, fmt.Errorf("%w: no disease model for %s", ErrModelLoad, c)
		}
		if m.NumClasses() != labels.NumDiseases(c) {
			return nil, fmt.Errorf("%w: %s disease model has %d classes, want %d",
				ErrModelLoad, c, m.NumClasses(), labels.NumDiseases(c))
		}
	}

	return &Registry{crop: crop, diseases: table}, nil
}

// CropIdentifier returns the first-stage model.
func (r *Registry) CropIdentifier() Classifier {
	return r.crop
}

// Lookup returns the disease model registered for crop.
func (r *Registry) Lookup(crop labels.Crop) (Classifier, error) {
	m, ok := r.diseases[crop]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCrop, crop)
	}
	return m, nil
}

// Close releases every model in the registry.
func (r *Registry) Close() error {
	var first error
	if err := r.crop.Close(); err != nil {
		first = err
	}
	for _, c := range labels.Crops() {
		if err := r.diseases[c].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoadCropIdentifier loads the first-stage model from path.
func LoadCropIdentifier(loader Loader, path string) (Classifier, error) {
	return load(loader, path, labels.NumCrops())
}

// LoadDiseaseModel loads the disease model of crop from path.
func LoadDiseaseModel(loader Loader, crop labels.Crop, path string, numClasses int) (Classifier, error) {
	if !crop.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCrop, crop)
	}
	m, err := load(loader, path, numClasses)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", crop, err)
	}
	return m, nil
}

func load(loader Loader, path string, numClasses int) (Classifier, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
	}

	m, err := loader.Load(path, numClasses)
	if err != nil {
		return nil, err
	}
	if m.NumClasses() != numClasses {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %s has %d classes, want %d", ErrModelLoad, path, m.NumClasses(), numClasses)
	}
	return m, nil
}

// CropIdentifierPath is where the first-stage weights live.
func CropIdentifierPath(cfg config.ModelConfig) string {
	return filepath.Join(cfg.Dir, cfg.CropIdentifier)
}

// DiseaseModelPath is where the weights of crop's disease model live.
func DiseaseModelPath(cfg config.ModelConfig, crop labels.Crop) string {
	return filepath.Join(cfg.Dir, fmt.Sprintf(cfg.DiseasePattern, crop))
}

// LoadRegistry loads all sixteen models. The first failure aborts loading
// and releases the models loaded so far.
func LoadRegistry(loader Loader, cfg config.ModelConfig, logger *zap.Logger) (*Registry, error) {
	logger = logger.Named("registry")

	path := CropIdentifierPath(cfg)
	logger.Info("loading crop identifier", zap.String("path", path))
	crop, err := LoadCropIdentifier(loader, path)
	if err != nil {
		return nil, err
	}

	diseases := make(map[labels.Crop]Classifier, labels.NumCrops())
	release := func() {
		_ = crop.Close()
		for _, m := range diseases {
			_ = m.Close()
		}
	}

	for _, c := range labels.Crops() {
		path := DiseaseModelPath(cfg, c)
		logger.Info("loading disease model",
			zap.String("crop", string(c)),
			zap.String("path", path),
			zap.Int("classes", labels.NumDiseases(c)))

		m, err := LoadDiseaseModel(loader, c, path, labels.NumDiseases(c))
		if err != nil {
			release()
			return nil, err
		}
		diseases[c] = m
	}

	registry, err := NewRegistry(crop, diseases)
	if err != nil {
		release()
		return nil, err
	}
	return registry, nil
}
