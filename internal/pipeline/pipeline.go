// Package pipeline chains the crop identifier and the per-crop disease
// models into a single prediction.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/cropguard-api/internal/labels"
	"github.com/Brownie44l1/cropguard-api/internal/metrics"
	"github.com/Brownie44l1/cropguard-api/internal/model"
	"github.com/Brownie44l1/cropguard-api/internal/preprocess"
)

// Prediction is a crop and a disease from that crop's label space. File is
// only set for batch items.
type Prediction struct {
	Crop    labels.Crop    `json:"crop"`
	Disease labels.Disease `json:"disease"`
	File    string         `json:"file,omitempty"`
}

// Item is one decoded image of a batch and the name it was uploaded under.
type Item struct {
	File  string
	Image image.Image
}

type Pipeline struct {
	registry         *model.Registry
	batchConcurrency int
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

type Option func(*Pipeline)

// WithBatchConcurrency bounds how many batch items are evaluated at once.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchConcurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l.Named("pipeline") }
}

func New(registry *model.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:         registry,
		batchConcurrency: 1,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Argmax returns the index of the largest score, the lowest index on ties,
// or -1 for an empty vector.
func Argmax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx
}

// Classify runs both stages on img. The disease model is always the one
// registered for the crop predicted on this same image.
func (p *Pipeline) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	return p.classifyTensor(preprocess.Transform(img))
}

func (p *Pipeline) classifyTensor(tensor *preprocess.Tensor) (Prediction, error) {
	start := time.Now()
	cropScores, err := p.registry.CropIdentifier().Forward(tensor)
	if err != nil {
		return Prediction{}, fmt.Errorf("crop identification: %w", err)
	}
	p.metrics.ObserveInference(metrics.StageCrop, time.Since(start))

	crop, ok := labels.CropAt(Argmax(cropScores))
	if !ok {
		return Prediction{}, fmt.Errorf("%w: crop index %d of %d scores", model.ErrUnknownCrop, Argmax(cropScores), len(cropScores))
	}

	diseaseModel, err := p.registry.Lookup(crop)
	if err != nil {
		return Prediction{}, err
	}

	start = time.Now()
	diseaseScores, err := diseaseModel.Forward(tensor)
	if err != nil {
		return Prediction{}, fmt.Errorf("%s disease classification: %w", crop, err)
	}
	p.metrics.ObserveInference(metrics.StageDisease, time.Since(start))

	idx := Argmax(diseaseScores)
	disease, ok := labels.DiseaseAt(crop, idx)
	if !ok {
		return Prediction{}, fmt.Errorf("%s disease index %d outside label space of %d", crop, idx, labels.NumDiseases(crop))
	}

	p.metrics.ObservePrediction(string(crop), string(disease))
	p.logger.Debug("classified", zap.String("crop", string(crop)), zap.String("disease", string(disease)))

	return Prediction{Crop: crop, Disease: disease}, nil
}

// ClassifyBatch classifies every item independently. Results follow input
// order and carry the item's file name. The first failure cancels the rest
// of the batch and is returned.
func (p *Pipeline) ClassifyBatch(ctx context.Context, items []Item) ([]Prediction, error) {
	results := make([]Prediction, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchConcurrency)

	for i, item := range items {
		g.Go(func() error {
			pred, err := p.Classify(ctx, item.Image)
			if err != nil {
				return fmt.Errorf("%s: %w", item.File, err)
			}
			pred.File = item.File
			results[i] = pred
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
