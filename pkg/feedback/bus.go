package feedback

import (
	"log/slog"
	"sync"
)

// Handler receives every event delivered to a Reporter. Implement it
// to react per-kind without a type switch in the caller.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) Handle(e Event) { f(e) }

// Dispatcher marshals a delivery onto whatever "delivery context" a
// host integration wants — a UI main-thread queue, an actor mailbox,
// or (the default) the producer's own goroutine — the same shape as
// RunOnMainThread in the corpus's hotkey package, generalized from
// "always the main thread" to "whatever context the Reporter was
// built with". A Reporter starts with the inline default; WithDispatch
// replaces it for every later Post.
type Dispatcher func(fn func())

// inlineDispatch runs fn synchronously on the calling goroutine; the
// default when no Dispatcher is supplied.
func inlineDispatch(fn func()) { fn() }

// Reporter delivers events to zero or more handlers. Delivery is
// best-effort and never panics into the producer: a panicking handler
// is logged and skipped. With the default inline dispatcher, handlers
// run synchronously inside Post on the producer's goroutine, so a slow
// handler delays the producer. Handlers may be added
// concurrently with delivery (a module registers listeners while its
// construction goroutine is already posting events).
type Reporter struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
	dispatch Dispatcher
}

// NewReporter builds a Reporter that fans events out to handlers, in
// the order given. A nil logger falls back to slog.Default(); events
// are delivered inline on the posting goroutine unless WithDispatch
// configures a different delivery context.
func NewReporter(logger *slog.Logger, handlers ...Handler) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{handlers: handlers, logger: logger, dispatch: inlineDispatch}
}

// NewCallbackReporter wraps a plain callback as a single-handler
// Reporter, for callers that don't need the visitor form.
func NewCallbackReporter(logger *slog.Logger, callback func(Event)) *Reporter {
	return NewReporter(logger, HandlerFunc(callback))
}

// WithDispatch replaces the Reporter's delivery-context dispatcher,
// used for every subsequent Post. Passing nil restores inline
// (synchronous, calling-goroutine) delivery. Returns r for chaining
// at construction time.
func (r *Reporter) WithDispatch(d Dispatcher) *Reporter {
	if d == nil {
		d = inlineDispatch
	}
	r.mu.Lock()
	r.dispatch = d
	r.mu.Unlock()
	return r
}

// Post delivers e to every registered handler, in order, marshaled
// through the Reporter's configured Dispatcher (inline on the calling
// goroutine by default). A panicking handler is recovered, logged,
// and does not stop delivery to the remaining handlers.
func (r *Reporter) Post(e Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	handlers := r.handlers
	dispatch := r.dispatch
	r.mu.RUnlock()
	dispatch(func() {
		for _, h := range handlers {
			r.deliver(h, e)
		}
	})
}

func (r *Reporter) deliver(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("feedback handler panicked", "kind", e.Kind, "recovered", rec)
		}
	}()
	h.Handle(e)
}

// Add registers an additional handler.
func (r *Reporter) Add(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}
