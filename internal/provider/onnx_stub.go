//go:build !cgo

// Stub for platforms without ONNX Runtime support.
// This allows the code to compile everywhere; loading a model fails cleanly.

package provider

import "fmt"

func newONNXSession(modelPath string) (onnxSession, error) {
	return nil, fmt.Errorf("ONNX Runtime requires a cgo build; cannot load %s", modelPath)
}
