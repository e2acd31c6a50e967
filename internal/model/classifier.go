package model

import (
	"errors"

	"github.com/Brownie44l1/cropguard-api/internal/preprocess"
)

var (
	// ErrModelLoad is returned when a weights artifact cannot be turned into
	// a classifier of the expected width.
	ErrModelLoad = errors.New("model load failed")
	// ErrUnknownCrop means the crop identifier and the registry disagree on
	// the crop label space.
	ErrUnknownCrop = errors.New("unknown crop")
)

// Classifier scores one image tensor against a fixed label space. Forward
// must be safe for concurrent use.
type Classifier interface {
	Forward(t *preprocess.Tensor) ([]float32, error)
	NumClasses() int
	Close() error
}

// Loader builds a classifier of numClasses outputs from a weights file.
type Loader interface {
	Load(path string, numClasses int) (Classifier, error)
}
