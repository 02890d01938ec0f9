package sensor

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// Config tunes the hub's merging and reconnection behavior.
type Config struct {
	// Holdback is how long a reading is buffered before dispatch so
	// slower sources can still slot in ahead of it.
	Holdback time.Duration
	// BackoffBase and BackoffMax bound the reconnect delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig covers 1-4Hz sensors with sub-250ms skew.
func DefaultConfig() Config {
	return Config{
		Holdback:    250 * time.Millisecond,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Holdback <= 0 {
		c.Holdback = d.Holdback
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = d.BackoffMax
	}
	return c
}

// ErrHubStopped is returned by Start after Stop; hubs are per-session and
// not restartable.
var ErrHubStopped = errors.New("sensor hub already stopped")

type readingHeap []reading.Reading

func (h readingHeap) Len() int            { return len(h) }
func (h readingHeap) Less(i, j int) bool  { return reading.Less(h[i], h[j]) }
func (h readingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readingHeap) Push(x any)         { *h = append(*h, x.(reading.Reading)) }
func (h *readingHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type sourceState struct {
	src    Source
	cancel context.CancelFunc
}

// Hub fans sensor sources into a single ordered stream. One pump goroutine
// per source feeds a holdback buffer; a dispatcher drains it in
// (timestamp, kind-priority) order.
type Hub struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
	buf     readingHeap
	lastTS  map[string]time.Time
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	out    chan reading.Reading
	status chan StatusEvent
}

// NewHub builds an idle hub. Register sources, then Start.
func NewHub(cfg Config, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		log:     log,
		sources: make(map[string]*sourceState),
		lastTS:  make(map[string]time.Time),
		out:     make(chan reading.Reading, 256),
		status:  make(chan StatusEvent, 64),
	}
}

// Readings is the merged ordered stream. Closed after Stop has flushed
// every buffered reading.
func (h *Hub) Readings() <-chan reading.Reading { return h.out }

// Status carries connectivity events. Closed on Stop.
func (h *Hub) Status() <-chan StatusEvent { return h.status }

// Register adds a source. While the hub runs, the source's pump starts
// immediately; otherwise it starts with the hub.
func (h *Hub) Register(src Source) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrHubStopped
	}
	if _, dup := h.sources[src.ID()]; dup {
		return errors.New("sensor source already registered: " + src.ID())
	}
	st := &sourceState{src: src}
	h.sources[src.ID()] = st
	if h.started {
		h.startPump(st)
	}
	return nil
}

// Remove disconnects and drops one source. The hub keeps running.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	st, ok := h.sources[id]
	if ok {
		delete(h.sources, id)
	}
	h.mu.Unlock()
	if ok && st.cancel != nil {
		st.cancel()
	}
}

// Start begins pumping and dispatching. Idempotent while running.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrHubStopped
	}
	if h.started {
		return nil
	}
	h.started = true
	h.ctx, h.cancel = context.WithCancel(ctx)
	for _, st := range h.sources {
		h.startPump(st)
	}
	h.wg.Add(1)
	go h.dispatch()
	return nil
}

// Stop halts all pumps, flushes the holdback buffer in order, and closes
// both channels. Idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()

	if started {
		h.cancel()
		h.wg.Wait()
	}
	h.flush(time.Time{})
	close(h.out)
	close(h.status)
}

// startPump is called with h.mu held.
func (h *Hub) startPump(st *sourceState) {
	ctx, cancel := context.WithCancel(h.ctx)
	st.cancel = cancel
	h.wg.Add(1)
	go h.pump(ctx, st.src)
}

// pump keeps one source connected and feeding the buffer, reconnecting
// with jittered exponential backoff bounded by BackoffMax.
func (h *Hub) pump(ctx context.Context, src Source) {
	defer h.wg.Done()
	backoff := h.cfg.BackoffBase
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := src.Connect(ctx)
		if err == nil {
			attempt = 0
			backoff = h.cfg.BackoffBase
			h.emitStatus(StatusEvent{SourceID: src.ID(), Status: StatusConnected, At: time.Now()})
			err = src.Subscribe(ctx, h.offer)
			if derr := src.Disconnect(); derr != nil {
				h.log.Warn("sensor disconnect", "source_id", src.ID(), "error", derr)
			}
		}
		if ctx.Err() != nil {
			h.emitStatus(StatusEvent{SourceID: src.ID(), Status: StatusDisconnected, At: time.Now()})
			return
		}
		if err == nil {
			// Clean end of stream: the source is done, not broken.
			h.emitStatus(StatusEvent{SourceID: src.ID(), Status: StatusDisconnected, At: time.Now()})
			return
		}

		attempt++
		h.emitStatus(StatusEvent{
			SourceID: src.ID(),
			Status:   StatusReconnecting,
			Attempt:  attempt,
			Reason:   err.Error(),
			At:       time.Now(),
		})
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		backoff *= 2
		if backoff > h.cfg.BackoffMax {
			backoff = h.cfg.BackoffMax
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// offer buffers one reading for ordered dispatch. Invalid kinds and
// per-source timestamp regressions are dropped here so downstream never
// sees them.
func (h *Hub) offer(r reading.Reading) {
	if !r.Kind.Valid() {
		h.log.Warn("dropping reading of unknown kind", "source_id", r.SourceID, "kind", string(r.Kind))
		return
	}
	h.mu.Lock()
	if last, ok := h.lastTS[r.SourceID]; ok && r.Timestamp.Before(last) {
		h.mu.Unlock()
		h.log.Warn("dropping timestamp regression",
			"source_id", r.SourceID, "kind", string(r.Kind),
			"timestamp", r.Timestamp, "last", last)
		return
	}
	h.lastTS[r.SourceID] = r.Timestamp
	heap.Push(&h.buf, r)
	h.mu.Unlock()
}

func (h *Hub) dispatch() {
	defer h.wg.Done()
	interval := h.cfg.Holdback / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-ticker.C:
			h.flush(now.Add(-h.cfg.Holdback))
		}
	}
}

// flush emits buffered readings with timestamps at or before cutoff, in
// order. A zero cutoff drains everything.
func (h *Hub) flush(cutoff time.Time) {
	for {
		h.mu.Lock()
		if len(h.buf) == 0 || (!cutoff.IsZero() && h.buf[0].Timestamp.After(cutoff)) {
			h.mu.Unlock()
			return
		}
		r := heap.Pop(&h.buf).(reading.Reading)
		h.mu.Unlock()
		h.out <- r
	}
}

// emitStatus never blocks; connectivity is advisory and a stalled consumer
// must not stall sensor pumps.
func (h *Hub) emitStatus(ev StatusEvent) {
	select {
	case h.status <- ev:
	default:
		h.log.Warn("status event dropped", "source_id", ev.SourceID, "status", string(ev.Status))
	}
}
