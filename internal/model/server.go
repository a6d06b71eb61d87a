package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// ONNXModel runs an exported network through ONNX Runtime. The session is
// created once; every Forward call allocates its own tensors so concurrent
// calls never touch shared buffers.
type ONNXModel struct {
	session     *ort.DynamicAdvancedSession
	inputShape  []int64
	outputShape ort.Shape
}

// NewONNXModel initializes the runtime environment and opens a session on
// modelPath. libraryPath overrides the onnxruntime shared library location.
func NewONNXModel(modelPath string, meta Metadata, libraryPath string) (*ONNXModel, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName}, nil)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:     session,
		inputShape:  append([]int64(nil), meta.InputShape...),
		outputShape: ort.NewShape(meta.OutputShape...),
	}, nil
}

func (m *ONNXModel) InputShape() []int64 {
	return append([]int64(nil), m.inputShape...)
}

func (m *ONNXModel) Forward(in tensor.Input) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](m.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), output.GetData()...), nil
}

func (m *ONNXModel) Close() error {
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return err
		}
		m.session = nil
	}
	return ort.DestroyEnvironment()
}
