package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropguard-api/internal/config"
)

// Device is the execution target of every session created by a Runtime.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Runtime owns the ONNX Runtime environment and the session options shared
// by all models. It implements Loader.
type Runtime struct {
	options *ort.SessionOptions
	device  Device
	logger  *zap.Logger
}

// NewRuntime initializes ONNX Runtime and resolves the configured device.
// With DeviceAuto, CUDA is tried first and CPU is the fallback.
func NewRuntime(cfg config.ModelConfig, logger *zap.Logger) (*Runtime, error) {
	logger = logger.Named("runtime")

	if cfg.SharedLibrary != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %w", ErrModelLoad, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: failed to create session options: %w", ErrModelLoad, err)
	}

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			_ = options.Destroy()
			_ = ort.DestroyEnvironment()
			return nil, fmt.Errorf("%w: failed to set intra-op threads: %w", ErrModelLoad, err)
		}
	}

	device, err := selectDevice(options, Device(cfg.Device), logger)
	if err != nil {
		_ = options.Destroy()
		_ = ort.DestroyEnvironment()
		return nil, err
	}
	logger.Info("ONNX runtime ready", zap.String("device", string(device)))

	return &Runtime{options: options, device: device, logger: logger}, nil
}

func selectDevice(options *ort.SessionOptions, want Device, logger *zap.Logger) (Device, error) {
	switch want {
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceCUDA:
		if err := appendCUDA(options); err != nil {
			return "", fmt.Errorf("%w: CUDA requested but unavailable: %w", ErrModelLoad, err)
		}
		return DeviceCUDA, nil
	case DeviceAuto, "":
		if err := appendCUDA(options); err != nil {
			logger.Info("CUDA unavailable, falling back to CPU", zap.Error(err))
			return DeviceCPU, nil
		}
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("%w: unknown device %q", ErrModelLoad, want)
	}
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// Device reports where sessions run.
func (rt *Runtime) Device() Device {
	return rt.device
}

// Load opens path as a session after checking that its input is a single
// 256x256 RGB image and its output has numClasses scores.
func (rt *Runtime) Load(path string, numClasses int) (Classifier, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}
	if err := checkShapes(inputs, outputs, numClasses); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		rt.options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to create ONNX session: %w", ErrModelLoad, path, err)
	}

	rt.logger.Debug("session created",
		zap.String("path", path),
		zap.String("input", inputs[0].Name),
		zap.String("output", outputs[0].Name),
		zap.Int("classes", numClasses))

	return &ONNXClassifier{
		session:    session,
		path:       path,
		numClasses: numClasses,
	}, nil
}

// Close releases the session options and tears down the environment. Call
// it after every classifier has been closed.
func (rt *Runtime) Close() {
	if rt.options != nil {
		_ = rt.options.Destroy()
		rt.options = nil
	}
	_ = ort.DestroyEnvironment()
}
