// Package stream implements the windowed audio pipeline shared by
// VAD, keyword-spotting, and online ASR modules: an intake queue fed
// by producers on any goroutine, a periodic drain that presents
// fixed-size windows to a native engine, a leading-padding ring that
// prefixes emitted segments with pre-speech audio, and hysteresis on
// the engine's speaking signal, per spec.md §4.10.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sherpa-go/sherpa-agents-go/pkg/task"
)

// Segment is one materialised utterance: the leading-padding ring's
// contents at the moment of detection, followed by the native
// engine's own samples for that segment, concatenated once.
type Segment struct {
	Samples []float32
}

// NativeSegment is one segment surfaced by a Dispatcher's Poll, prior
// to leading-padding.
type NativeSegment struct {
	Samples []float32
}

// Dispatcher adapts the pipeline to a specific native engine binding
// (VAD, KWS, or online ASR each poll and report speaking state
// differently). Every method is called from the pipeline's own
// serialised critical section; implementations do not need their own
// locking around the native handle they wrap, but must not retain
// the window slice passed to AcceptWindow beyond the call.
type Dispatcher interface {
	// AcceptWindow presents exactly one window of samples to the
	// native engine.
	AcceptWindow(window []float32) error

	// Poll returns zero or more segments completed since the last
	// call.
	Poll() []NativeSegment

	// Speaking reports the native engine's current speaking signal.
	Speaking() bool

	// Flush asks the native engine to finalize any partial state
	// after the intake queue has been fully drained into it.
	Flush()
}

// Config parameterizes a Pipeline.
type Config struct {
	WindowSize         int
	SampleRate         int
	PaddingSeconds     float64
	MinSilenceDuration time.Duration
	DrainInterval      time.Duration
	Logger             *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 10 * time.Millisecond
	}
	if c.PaddingSeconds <= 0 {
		c.PaddingSeconds = 0.5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Pipeline drives the windowed intake/dispatch/segment-emission loop
// for one native engine stream.
type Pipeline struct {
	cfg        Config
	dispatcher Dispatcher
	disposed   func() bool

	queue *sampleQueue
	ring  *paddingRing

	// mu serialises every call into the native engine, matching
	// spec.md §4.10's per-module lock requirement.
	mu               sync.Mutex
	isSpeaking       bool
	silentFrames     int
	minSilenceFrames int

	handlersMu       sync.RWMutex
	onSegment        []func(Segment)
	onSpeakingChange []func(bool)
}

// New builds a Pipeline over dispatcher and schedules its periodic
// drain on runner. disposed is consulted before every native call so
// a racing module disposal is observed inside the critical section
// rather than after it.
func New(cfg Config, dispatcher Dispatcher, runner *task.Runner, disposed func() bool) *Pipeline {
	cfg = cfg.withDefaults()
	if disposed == nil {
		disposed = func() bool { return false }
	}

	minSilenceFrames := 1
	if cfg.MinSilenceDuration > 0 && cfg.WindowSize > 0 && cfg.SampleRate > 0 {
		framesPerSecond := float64(cfg.SampleRate) / float64(cfg.WindowSize)
		minSilenceFrames = int(cfg.MinSilenceDuration.Seconds() * framesPerSecond)
		if minSilenceFrames < 1 {
			minSilenceFrames = 1
		}
	}

	paddingCap := int(cfg.PaddingSeconds * float64(cfg.SampleRate))
	p := &Pipeline{
		cfg:              cfg,
		dispatcher:       dispatcher,
		disposed:         disposed,
		queue:            &sampleQueue{},
		ring:             newPaddingRing(paddingCap),
		minSilenceFrames: minSilenceFrames,
	}

	runner.LoopAsync(p.drainOnce, cfg.DrainInterval, func(err error) {
		cfg.Logger.Warn("stream: drain iteration failed", "err", err)
	}, nil)

	return p
}

// StreamDetect enqueues samples for the next drain. Safe to call from
// any goroutine, including concurrently with itself.
func (p *Pipeline) StreamDetect(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.queue.Push(samples)
}

// OnSegment registers a callback invoked once per emitted segment.
func (p *Pipeline) OnSegment(cb func(Segment)) {
	p.handlersMu.Lock()
	p.onSegment = append(p.onSegment, cb)
	p.handlersMu.Unlock()
}

// OnSpeakingChange registers a callback invoked whenever the derived
// speaking state actually flips.
func (p *Pipeline) OnSpeakingChange(cb func(bool)) {
	p.handlersMu.Lock()
	p.onSpeakingChange = append(p.onSpeakingChange, cb)
	p.handlersMu.Unlock()
}

func (p *Pipeline) drainOnce(ctx context.Context) error {
	if p.disposed() {
		return nil
	}
	window := p.queue.PopWindow(p.cfg.WindowSize)
	if window == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed() {
		return nil
	}
	return p.dispatchLocked(window)
}

// dispatchLocked presents window to the native engine, derives the
// speaking-state transition, and emits any completed segments. Must
// be called with p.mu held.
func (p *Pipeline) dispatchLocked(window []float32) error {
	if err := p.dispatcher.AcceptWindow(window); err != nil {
		return err
	}

	speaking := p.dispatcher.Speaking()
	if speaking {
		p.silentFrames = 0
		if !p.isSpeaking {
			p.isSpeaking = true
			p.emitSpeakingChange(true)
		}
	} else if p.isSpeaking {
		p.silentFrames++
		if p.silentFrames >= p.minSilenceFrames {
			p.isSpeaking = false
			p.emitSpeakingChange(false)
		}
	} else {
		p.ring.Append(window)
	}

	for _, seg := range p.dispatcher.Poll() {
		p.emitSegmentLocked(seg)
	}
	return nil
}

func (p *Pipeline) emitSegmentLocked(seg NativeSegment) {
	padding := p.ring.Contents()
	p.ring.Clear()

	full := make([]float32, 0, len(padding)+len(seg.Samples))
	full = append(full, padding...)
	full = append(full, seg.Samples...)

	p.handlersMu.RLock()
	handlers := p.onSegment
	p.handlersMu.RUnlock()
	for _, cb := range handlers {
		cb(Segment{Samples: full})
	}
}

func (p *Pipeline) emitSpeakingChange(speaking bool) {
	p.handlersMu.RLock()
	handlers := p.onSpeakingChange
	p.handlersMu.RUnlock()
	for _, cb := range handlers {
		cb(speaking)
	}
}

// Flush drains any queued samples into the native engine (padding the
// final partial window with zeros), asks the engine to finalize, and
// emits any remaining segments before resetting speaking state.
func (p *Pipeline) Flush() {
	if p.disposed() {
		return
	}
	remaining := p.queue.DrainAll()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed() {
		return
	}

	for len(remaining) >= p.cfg.WindowSize {
		window := remaining[:p.cfg.WindowSize]
		remaining = remaining[p.cfg.WindowSize:]
		if err := p.dispatchLocked(window); err != nil {
			p.cfg.Logger.Warn("stream: flush window dispatch failed", "err", err)
		}
	}
	if len(remaining) > 0 {
		window := make([]float32, p.cfg.WindowSize)
		copy(window, remaining)
		if err := p.dispatchLocked(window); err != nil {
			p.cfg.Logger.Warn("stream: flush final window dispatch failed", "err", err)
		}
	}

	p.dispatcher.Flush()
	for _, seg := range p.dispatcher.Poll() {
		p.emitSegmentLocked(seg)
	}

	p.isSpeaking = false
	p.silentFrames = 0
	p.ring.Clear()
}

// IsSpeaking reports the pipeline's current derived speaking state.
func (p *Pipeline) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isSpeaking
}
