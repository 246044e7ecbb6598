//go:build onnxruntime

package onnxruntime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
	"github.com/sherpa-go/sherpa-agents-go/pkg/native"
)

const (
	modelFileName     = "model.onnx"
	tokenizerFileName = "bpe.vocab"
	maxTokens         = 128
)

// punctuationSymbols maps the model's per-token class index to the
// symbol appended after that token. Index 0 means "no punctuation".
var punctuationSymbols = []string{"", ",", ".", "?"}

// onnxPunctuator implements native.Punctuator over a single ONNX
// punctuation-restoration graph, loaded lazily and shared across
// every AddPunctuation call.
type onnxPunctuator struct {
	modelDir string

	sessionOnce sync.Once
	session     *ort.Session[float32]
	sessionErr  error

	tokenizerOnce sync.Once
	tok           *tokenizer.Tokenizer
	tokenizerErr  error

	mu       sync.Mutex
	disposed bool
}

// OpenPunctuator implements native.PunctuatorOpener.
func OpenPunctuator(ctx context.Context, cfg native.Config) (native.Punctuator, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("onnxruntime: %w: empty model directory", coreerr.ErrPrecondition)
	}
	return &onnxPunctuator{modelDir: cfg.ModelDir}, nil
}

func (p *onnxPunctuator) AddPunctuation(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return "", coreerr.ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := p.loadSession(); err != nil {
		return "", fmt.Errorf("onnxruntime: %w: %v", coreerr.ErrNativeInit, err)
	}
	if err := p.loadTokenizer(); err != nil {
		return "", fmt.Errorf("onnxruntime: %w: %v", coreerr.ErrNativeInit, err)
	}

	if text == "" {
		return "", nil
	}

	encoding, err := p.tok.EncodeSingle(text, false)
	if err != nil {
		return "", fmt.Errorf("onnxruntime: tokenization failed: %w", err)
	}
	ids := encoding.GetIds()
	tokens := encoding.GetTokens()
	if len(ids) > maxTokens {
		ids = ids[:maxTokens]
		tokens = tokens[:maxTokens]
	}
	if len(ids) == 0 {
		return text, nil
	}

	classes, err := p.runInference(ids)
	if err != nil {
		return "", fmt.Errorf("onnxruntime: inference failed: %w", err)
	}

	return restore(tokens, classes), nil
}

func (p *onnxPunctuator) loadSession() error {
	p.sessionOnce.Do(func() {
		modelFile := filepath.Join(p.modelDir, modelFileName)
		if _, err := os.Stat(modelFile); os.IsNotExist(err) {
			p.sessionErr = fmt.Errorf("model file not found: %s", modelFile)
			return
		}
		if err := ensureEnvironment(); err != nil {
			p.sessionErr = fmt.Errorf("initialize ONNX runtime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			p.sessionErr = fmt.Errorf("create session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
			p.sessionErr = fmt.Errorf("set intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			p.sessionErr = fmt.Errorf("set inter-op threads: %w", err)
			return
		}

		dummyShape := ort.NewShape(1, 1)
		dummyInput, err := ort.NewTensor(dummyShape, []float32{0})
		if err != nil {
			p.sessionErr = fmt.Errorf("create dummy input tensor: %w", err)
			return
		}
		defer dummyInput.Destroy()

		dummyOutput, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(len(punctuationSymbols))))
		if err != nil {
			p.sessionErr = fmt.Errorf("create dummy output tensor: %w", err)
			return
		}
		defer dummyOutput.Destroy()

		p.session, err = ort.NewSession[float32](
			modelFile,
			[]string{"input_ids"},
			[]string{"logits"},
			[]*ort.Tensor[float32]{dummyInput},
			[]*ort.Tensor[float32]{dummyOutput},
		)
		if err != nil {
			p.sessionErr = fmt.Errorf("create ONNX session: %w", err)
		}
	})
	return p.sessionErr
}

func (p *onnxPunctuator) loadTokenizer() error {
	p.tokenizerOnce.Do(func() {
		tokenizerFile := filepath.Join(p.modelDir, tokenizerFileName)
		if _, err := os.Stat(tokenizerFile); os.IsNotExist(err) {
			p.tokenizerErr = fmt.Errorf("tokenizer file not found: %s", tokenizerFile)
			return
		}
		tk, err := pretrained.FromFile(tokenizerFile)
		if err != nil {
			p.tokenizerErr = fmt.Errorf("load tokenizer: %w", err)
			return
		}
		p.tok = tk
	})
	return p.tokenizerErr
}

// runInference builds a fresh session sized for len(ids) tokens, per
// the teacher's own approach of trading session-reuse for dynamic
// input length support, and returns the argmax punctuation class per
// token.
func (p *onnxPunctuator) runInference(ids []int) ([]int, error) {
	seqLen := len(ids)
	inputData := make([]float32, seqLen)
	for i, id := range ids {
		inputData[i] = float32(id)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen)), inputData)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	numClasses := int64(len(punctuationSymbols))
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), numClasses))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewSession[float32](
		filepath.Join(p.modelDir, modelFileName),
		[]string{"input_ids"},
		[]string{"logits"},
		[]*ort.Tensor[float32]{inputTensor},
		[]*ort.Tensor[float32]{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("create per-call session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	data := outputTensor.GetData()
	classes := make([]int, seqLen)
	for i := 0; i < seqLen; i++ {
		best, bestScore := 0, data[i*int(numClasses)]
		for c := 1; c < int(numClasses); c++ {
			score := data[i*int(numClasses)+c]
			if score > bestScore {
				best, bestScore = c, score
			}
		}
		classes[i] = best
	}
	return classes, nil
}

func restore(tokens []string, classes []int) string {
	var out string
	for i, tok := range tokens {
		if i > 0 {
			out += " "
		}
		out += tok
		if i < len(classes) && classes[i] > 0 && classes[i] < len(punctuationSymbols) {
			out += punctuationSymbols[classes[i]]
		}
	}
	return out
}

// Dispose releases the ONNX session. Idempotent.
func (p *onnxPunctuator) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	if p.session != nil {
		p.session.Destroy()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
