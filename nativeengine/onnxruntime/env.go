//go:build onnxruntime

// Package onnxruntime implements pkg/native.Punctuator for the
// AddPunctuation module kind using github.com/yalue/onnxruntime_go
// directly, gated behind the onnxruntime build tag so the default
// build carries no cgo dependency on the ONNX Runtime shared library.
package onnxruntime

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// ensureEnvironment initializes the ONNX Runtime environment exactly
// once per process; concurrent Punctuator loads would otherwise race
// on duplicate schema registration.
func ensureEnvironment() error {
	envOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}
