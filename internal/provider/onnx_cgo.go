//go:build cgo

package provider

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/embedbench/embed-bench/internal/tokenizer"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initONNXRuntime initializes the shared ONNX Runtime environment once per
// process. Sessions are per model; the environment is shared.
func initONNXRuntime() error {
	ortInitOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}

		if lib := findLibraryPath(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}

		ortInitErr = ort.InitializeEnvironment()
	})

	return ortInitErr
}

func findLibraryPath() string {
	if env := os.Getenv("ONNX_RUNTIME_LIB"); env != "" {
		return env
	}

	dllName := "onnxruntime.dll"
	if runtime.GOOS == "linux" {
		dllName = "libonnxruntime.so"
	} else if runtime.GOOS == "darwin" {
		dllName = "libonnxruntime.dylib"
	}

	if _, err := os.Stat(dllName); err == nil {
		return dllName
	}

	return ""
}

// ortSession wraps a DynamicAdvancedSession for one model.
type ortSession struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

func newONNXSession(modelPath string) (onnxSession, error) {
	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	inputNames := []string{"input_ids", "attention_mask"}
	outputNames := []string{"last_hidden_state"}

	// Probe the model for its actual tensor names where possible
	if inputs, outputs, err := ort.GetInputOutputInfo(modelPath); err == nil && len(inputs) > 0 {
		inputNames = inputNames[:0]
		for _, info := range inputs {
			inputNames = append(inputNames, info.Name)
		}

		outputNames = outputNames[:0]
		for _, info := range outputs {
			outputNames = append(outputNames, info.Name)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ORT session: %w", err)
	}

	return &ortSession{
		session:     session,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func (s *ortSession) run(enc *tokenizer.BatchEncoding) ([]float32, error) {
	shape := ort.Shape(enc.Shape())

	var toDestroy []ort.Value
	defer func() {
		for _, v := range toDestroy {
			_ = v.Destroy()
		}
	}()

	inputValues := make([]ort.Value, len(s.inputNames))
	for i, name := range s.inputNames {
		var data []int64

		switch name {
		case "input_ids":
			data = enc.InputIDs
		case "attention_mask":
			data = enc.AttentionMask
		case "token_type_ids":
			// Single-segment input, all zeros
			data = make([]int64, len(enc.InputIDs))
		default:
			return nil, fmt.Errorf("unsupported model input: %s", name)
		}

		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create tensor for %s: %w", name, err)
		}

		inputValues[i] = t
		toDestroy = append(toDestroy, t)
	}

	outputValues := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(inputValues, outputValues); err != nil {
		return nil, fmt.Errorf("run failed: %w", err)
	}

	for _, v := range outputValues {
		if v != nil {
			toDestroy = append(toDestroy, v)
		}
	}

	out := s.pickOutput(outputValues)
	if out == nil {
		return nil, fmt.Errorf("model produced no usable output")
	}

	tensor, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unsupported output tensor type %T", out)
	}

	data := tensor.GetData()
	result := make([]float32, len(data))
	copy(result, data)

	return result, nil
}

// pickOutput prefers last_hidden_state, falling back to the first output.
func (s *ortSession) pickOutput(outputs []ort.Value) ort.Value {
	for i, name := range s.outputNames {
		if name == "last_hidden_state" && outputs[i] != nil {
			return outputs[i]
		}
	}

	for _, v := range outputs {
		if v != nil {
			return v
		}
	}

	return nil
}

func (s *ortSession) close() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}
