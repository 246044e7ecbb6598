package module

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sherpa-go/sherpa-agents-go/pkg/acquire"
	"github.com/sherpa-go/sherpa-agents-go/pkg/feedback"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/task"
)

// Initializer is the subclass hook invoked once acquisition succeeds.
// Implementations build the native engine for metadata and must
// respect cancel: an implementation that ignores it can wedge
// disposal.
type Initializer func(ctx context.Context, metadata model.Metadata, sampleRate int, mobilePlatform string, reporter *feedback.Reporter) error

// Destroyer is the subclass hook invoked exactly once during
// disposal, after the runner has been stopped, to release native
// resources. It must not block on anything that could itself depend
// on the runner.
type Destroyer func()

// Options configures a Module's construction.
type Options struct {
	SampleRate         int
	MobilePlatform     string
	MaxConcurrentTasks int
	Logger             *slog.Logger

	// Initialize builds the native engine once acquisition succeeds.
	// Required.
	Initialize Initializer

	// OnDestroy releases native resources during disposal. Optional.
	OnDestroy Destroyer
}

// Module is the abstract lifecycle every speech module follows:
// acquire its model, hand off to a subclass initializer, run in a
// steady state driven by its own Runner, and dispose exactly once.
type Module struct {
	state atomic.Int32

	metadata  model.Metadata
	reporter  *feedback.Reporter
	logger    *slog.Logger
	onDestroy Destroyer

	// Runner backs the module's steady-state background work (C10's
	// periodic drain, for instance). Exposed so subclasses can
	// schedule their own tasks on the same bounded, cancellable
	// supervisor that construction and disposal already coordinate.
	Runner *task.Runner

	disposeOnce sync.Once
	disposed    atomic.Bool

	ready    chan struct{}
	readyErr error
}

// New constructs a Module for metadata, immediately starting an
// asynchronous acquisition against orch. Cancelling ctx aborts
// construction (and, transitively, everything derived from it) at
// any point before Ready.
func New(ctx context.Context, orch *acquire.Orchestrator, metadata model.Metadata, opts Options) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTasks := opts.MaxConcurrentTasks
	if maxTasks < 1 {
		maxTasks = 1
	}

	m := &Module{
		metadata:  metadata,
		reporter:  feedback.NewReporter(logger),
		logger:    logger,
		onDestroy: opts.OnDestroy,
		Runner:    task.New(maxTasks, logger),
		ready:     make(chan struct{}),
	}
	m.state.Store(int32(StateConstructing))

	go m.construct(ctx, orch, metadata, opts)
	return m
}

// OnEvent registers h to receive every feedback event this module
// posts during acquisition and, if the subclass forwards its own
// events, steady-state operation.
func (m *Module) OnEvent(h feedback.Handler) {
	m.reporter.Add(h)
}

// State returns the module's current lifecycle state.
func (m *Module) State() State {
	return State(m.state.Load())
}

// Ready blocks until construction reaches Ready or Failed/Disposed,
// returning the terminal construction error, if any. It is safe to
// call Ready from multiple goroutines.
func (m *Module) Ready() error {
	<-m.ready
	return m.readyErr
}

func (m *Module) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Module) construct(ctx context.Context, orch *acquire.Orchestrator, metadata model.Metadata, opts Options) {
	defer close(m.ready)

	m.setState(StateAcquiring)
	if ctx.Err() != nil {
		m.reporter.Post(feedback.Cancel(metadata))
		m.fail(ctx.Err())
		return
	}

	if !orch.PrepareModel(ctx, metadata, m.reporter) {
		if ctx.Err() != nil {
			m.fail(ctx.Err())
			return
		}
		m.fail(errAcquisitionFailed(metadata.ModelID))
		return
	}

	if ctx.Err() != nil {
		m.reporter.Post(feedback.Cancel(metadata))
		m.fail(ctx.Err())
		return
	}

	m.setState(StateLoading)
	if opts.Initialize != nil {
		if err := opts.Initialize(ctx, metadata, opts.SampleRate, opts.MobilePlatform, m.reporter); err != nil {
			m.reporter.Post(feedback.Failed(metadata, err))
			m.fail(err)
			return
		}
	}

	m.setState(StateReady)
	m.reporter.Post(feedback.Success(metadata))
}

// fail records err as the terminal construction error, marks the
// module Failed, and drives it the rest of the way to Disposed: per
// spec.md §3/§7, a construction failure never leaves the module
// parked in Failed — it always still reaches Disposed, the same as
// an explicit Dispose call.
func (m *Module) fail(err error) {
	m.readyErr = err
	m.setState(StateFailed)
	m.Dispose()
}

// Dispose tears the module down exactly once: it stops the runner
// (cancelling all in-flight work), then invokes the subclass
// onDestroy hook to release native resources. Safe to call
// concurrently, and safe to call more than once — only the first
// call has any effect. It does not block waiting for construction to
// finish; disposing a module still under construction cancels its
// runner and lets construct() observe cancellation on its own.
func (m *Module) Dispose() {
	m.disposeOnce.Do(func() {
		m.disposed.Store(true)
		m.setState(StateDisposing)

		m.Runner.Dispose()

		if m.onDestroy != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.logger.Error("module onDestroy panicked", "modelId", m.metadata.ModelID, "recovered", r)
					}
				}()
				m.onDestroy()
			}()
		}

		m.setState(StateDisposed)
	})
}

// Disposed reports whether Dispose has been called. Steady-state
// operations should check this under their own lock before touching
// native handles.
func (m *Module) Disposed() bool {
	return m.disposed.Load()
}

// Metadata returns the metadata this module was constructed with.
func (m *Module) Metadata() model.Metadata {
	return m.metadata
}

type acquisitionFailedError string

func (e acquisitionFailedError) Error() string {
	return "module: acquisition failed for " + string(e)
}

func errAcquisitionFailed(modelID string) error {
	return acquisitionFailedError(modelID)
}
