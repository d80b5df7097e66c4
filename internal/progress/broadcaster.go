package progress

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes a single event. Implementations MUST NOT block for long;
// Broadcast dispatches to each handler on its own goroutine precisely so a
// slow handler cannot stall the producer, but a handler that falls behind
// loses events once its bounded queue is full.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(Event)

// Handle implements Handler.
func (f HandlerFunc) Handle(e Event) { f(e) }

// defaultQueueDepth bounds the per-handler buffered channel when New is
// called without an explicit depth. A full queue drops the event for that
// handler rather than blocking the producer (spec §4.3: "best-effort... MAY
// be dropped").
const defaultQueueDepth = 256

// subscriber pairs a handler with its dedicated delivery goroutine.
type subscriber struct {
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Broadcaster fans out events to every registered handler with no
// back-pressure on the producer. The handler list is read-heavy and
// write-rare, so a plain RWMutex over a slice is appropriate (spec §5, §9).
type Broadcaster struct {
	mu         sync.RWMutex
	subs       []*subscriber
	queueDepth int
	logger     zerolog.Logger
}

// New creates an empty Broadcaster whose per-handler queues are bounded at
// defaultQueueDepth. Use NewWithQueueDepth to apply config.Engine's
// configurable BroadcasterQueueDepth (spec §7).
func New(logger zerolog.Logger) *Broadcaster {
	return NewWithQueueDepth(logger, defaultQueueDepth)
}

// NewWithQueueDepth creates an empty Broadcaster whose per-handler queues
// are bounded at queueDepth. A non-positive queueDepth falls back to
// defaultQueueDepth.
func NewWithQueueDepth(logger zerolog.Logger, queueDepth int) *Broadcaster {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Broadcaster{
		queueDepth: queueDepth,
		logger:     logger.With().Str("component", "progress").Logger(),
	}
}

// AddHandler registers handler and starts its dedicated delivery goroutine.
// Events broadcast before this call are never delivered to it.
func (b *Broadcaster) AddHandler(h Handler) {
	sub := &subscriber{
		handler: h,
		queue:   make(chan Event, b.queueDepth),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for e := range sub.queue {
			b.dispatch(sub, e)
		}
	}()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// dispatch invokes a handler for one event, recovering from any panic so a
// misbehaving subscriber never takes down the broadcaster or the producer
// (spec §7: "a handler panic or failure MUST NOT propagate to the engine").
func (b *Broadcaster) dispatch(sub *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event_type", string(e.Type)).Msg("progress handler panicked")
		}
	}()
	sub.handler.Handle(e)
}

// Broadcast dispatches event to every registered handler. Delivery order to
// a given handler matches emission order; delivery across handlers is
// unordered. If a handler's queue is full, the event is dropped for that
// handler only — the producer never blocks.
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.queue <- e:
		default:
			b.logger.Warn().Str("event_type", string(e.Type)).Msg("progress handler queue full, dropping event")
		}
	}
}

// EmitInfo emits an EventInfo with progress fields left at zero.
func (b *Broadcaster) EmitInfo(message string) {
	b.Broadcast(newEvent(EventInfo, message))
}

// EmitError emits an EventError carrying err's message, progress fields at
// zero.
func (b *Broadcaster) EmitError(err error) {
	e := newEvent(EventError, err.Error())
	b.Broadcast(e)
}

// Close drains and stops every subscriber's delivery goroutine. Pending
// queued events are delivered before each goroutine exits.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
		<-sub.done
	}
}
