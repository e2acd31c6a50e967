package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/cropguard-api/internal/preprocess"
)

// ONNXClassifier runs an exported network through ONNX Runtime. Tensors are
// allocated per call so a single session serves concurrent requests.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	path       string
	numClasses int
}

func (c *ONNXClassifier) NumClasses() int {
	return c.numClasses
}

func (c *ONNXClassifier) Forward(t *preprocess.Tensor) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(t.Shape()...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := c.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("inference failed on %s: %w", c.path, err)
	}

	scores := make([]float32, c.numClasses)
	copy(scores, outputTensor.GetData())
	return scores, nil
}

func (c *ONNXClassifier) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// checkShapes verifies the artifact takes one NCHW image and produces one
// score vector of numClasses. Negative dimensions are dynamic.
func checkShapes(inputs, outputs []ort.InputOutputInfo, numClasses int) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	want := []int64{1, preprocess.Channels, preprocess.Size, preprocess.Size}
	in := inputs[0].Dimensions
	if len(in) != len(want) {
		return fmt.Errorf("input %q has shape %v, want %v", inputs[0].Name, in, want)
	}
	for i, d := range in {
		if d > 0 && d != want[i] {
			return fmt.Errorf("input %q has shape %v, want %v", inputs[0].Name, in, want)
		}
	}

	out := outputs[0].Dimensions
	if len(out) == 0 || out[len(out)-1] != int64(numClasses) {
		return fmt.Errorf("output %q has shape %v, want %d classes", outputs[0].Name, out, numClasses)
	}
	return nil
}
