//go:build !onnxruntime

// Package onnxruntime provides a stub AddPunctuation adapter when the
// onnxruntime build tag is not set, so the module still links without
// the ONNX Runtime shared library available.
package onnxruntime

import (
	"context"
	"fmt"

	"github.com/sherpa-go/sherpa-agents-go/pkg/native"
)

// OpenPunctuator implements native.PunctuatorOpener with a stub that
// always fails; build with -tags=onnxruntime to enable the real
// adapter.
func OpenPunctuator(ctx context.Context, cfg native.Config) (native.Punctuator, error) {
	return nil, fmt.Errorf("onnxruntime: punctuation restoration not available (build with -tags=onnxruntime)")
}
