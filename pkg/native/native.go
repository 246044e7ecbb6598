// Package native declares the capability set the streaming pipeline
// and module lifecycle depend on, without committing to a specific
// engine. nativeengine/onnxruntime supplies a concrete
// PunctuatorOpener behind the onnxruntime build tag, with a stub for
// builds without it; no concrete Engine implementation is included.
package native

import "context"

// Config carries whatever engine-specific tuning a concrete engine
// needs to open a handle. It is opaque here: each nativeengine
// implementation defines and documents its own concrete type and
// type-asserts it out of this field.
type Config struct {
	ModelDir   string
	SampleRate int
	NumThreads int
	Extra      any
}

// Handle is an opened native engine instance: an ASR/KWS/TTS/VAD/
// denoiser session bound to a loaded model. Handles are not safe for
// concurrent use; callers serialise access with their own lock.
type Handle interface {
	// Dispose releases the underlying native resources. Idempotent.
	Dispose()
}

// StreamHandle is a decoding session opened against an online ASR or
// KWS Handle. One Handle may back many concurrent StreamHandles, each
// with its own decode state.
type StreamHandle interface {
	Handle

	// AcceptWaveform appends samples (mono, sampleRate Hz) to the
	// stream's internal buffer.
	AcceptWaveform(sampleRate int, samples []float32) error

	// IsReady reports whether enough buffered audio exists to decode
	// another window.
	IsReady() bool

	// Decode consumes one ready window and advances decode state.
	Decode() error

	// Result returns the current best decode hypothesis.
	Result() Result

	// IsEndpoint reports whether the engine considers the current
	// utterance complete.
	IsEndpoint() bool

	// Reset clears decode state for the next utterance, keeping the
	// stream open.
	Reset()
}

// Result is a decode outcome for one recognition or keyword-spotting
// window.
type Result struct {
	Text       string
	Tokens     []string
	Keyword    string
	IsFinal    bool
	Confidence float64
}

// VADHandle is an opened voice-activity detector. Unlike online
// ASR/KWS, sherpa-onnx's VAD API exposes a segment queue rather than
// a decode/result pair.
type VADHandle interface {
	Handle

	AcceptWaveform(samples []float32) error
	IsSpeechDetected() bool
	IsEmpty() bool
	Front() []float32
	Pop()
	Flush()
}

// Synthesis is one text-to-speech generation result.
type Synthesis struct {
	Samples    []float32
	SampleRate int
	NumSamples int
}

// TTSProgress is invoked, if non-nil, as a TTS generation streams
// samples incrementally.
type TTSProgress func(samples []float32) (keepGoing bool)

// Engine is the synchronous construction surface: it opens handles
// from configuration. A concrete engine implements exactly the
// subset relevant to the module kinds it serves; module kinds it
// does not serve return an error from the corresponding Open* call.
type Engine interface {
	OpenAsrOnline(ctx context.Context, cfg Config) (Handle, error)
	OpenAsrOffline(ctx context.Context, cfg Config) (Handle, error)
	OpenVad(ctx context.Context, cfg Config, bufferSeconds float64) (VADHandle, error)
	OpenKws(ctx context.Context, cfg Config) (Handle, error)
	OpenTts(ctx context.Context, cfg Config) (Handle, error)
	OpenDenoiser(ctx context.Context, cfg Config) (Handle, error)

	// CreateStream opens a decode session against an ASR-online or
	// KWS handle returned by OpenAsrOnline/OpenKws.
	CreateStream(handle Handle) (StreamHandle, error)

	// Run applies a denoiser handle to samples in one shot.
	Run(handle Handle, samples []float32, sampleRate int) ([]float32, error)

	// Generate synthesizes speech from text on a TTS handle.
	Generate(handle Handle, text string, speed float64, voiceID int, progress TTSProgress) (Synthesis, error)
}

// Punctuator restores punctuation and capitalization to raw ASR
// output text. It is not part of sherpa-onnx's own native capability
// set (spec.md §6 lists only ASR/KWS/TTS/VAD/denoiser operations);
// AddPunctuation models are served by a small, separate, ONNX-driven
// adapter instead.
type Punctuator interface {
	Handle

	// AddPunctuation returns text with punctuation and capitalization
	// restored.
	AddPunctuation(ctx context.Context, text string) (string, error)
}

// PunctuatorOpener opens a Punctuator from a model directory. A
// nativeengine implementation supplies this; module construction
// calls it once acquisition succeeds.
type PunctuatorOpener func(ctx context.Context, cfg Config) (Punctuator, error)
