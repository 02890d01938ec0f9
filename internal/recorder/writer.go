package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/checkpoint"
)

// writeResult reports one checkpoint attempt back to the processing loop.
type writeResult struct {
	sessionID string
	sequence  int64
	cursor    int64
	err       error
}

type cpJob struct {
	cp checkpoint.Checkpoint
	// prepare runs before the write; the recorder uses it to make the raw
	// stream durable so the checkpoint cursor never outruns logged bytes.
	prepare func() error
	// flushAck, when set, marks a barrier instead of a write: the writer
	// acknowledges once every earlier write has completed.
	flushAck chan struct{}
}

// cpWriter runs checkpoint I/O off the ingestion path. Its inbox holds one
// pending snapshot; scheduling while a write is in flight replaces the
// pending one (latest wins), so slow storage coalesces checkpoints instead
// of queueing them.
type cpWriter struct {
	store   *checkpoint.FileStore
	log     *slog.Logger
	retries int
	backoff time.Duration

	in      chan cpJob
	results chan writeResult
}

func newCPWriter(store *checkpoint.FileStore, log *slog.Logger, retries int, backoff time.Duration) *cpWriter {
	if retries <= 0 {
		retries = 5
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &cpWriter{
		store:   store,
		log:     log,
		retries: retries,
		backoff: backoff,
		in:      make(chan cpJob, 1),
		results: make(chan writeResult, 8),
	}
}

// schedule is called only from the processing loop, so the drain-then-push
// below never races with another producer.
func (w *cpWriter) schedule(cp checkpoint.Checkpoint, prepare func() error) {
	job := cpJob{cp: cp, prepare: prepare}
	select {
	case w.in <- job:
		return
	default:
	}
	select {
	case stale := <-w.in:
		w.log.Debug("superseding pending checkpoint",
			"session_id", stale.cp.SessionID, "sequence", stale.cp.Sequence)
	default:
	}
	w.in <- job
}

// flushSync discards any pending snapshot and blocks until the in-flight
// write (if any) has finished, feeding interim results to onResult. Called
// from the loop before finalize or discard removes checkpoint files, so a
// stale write can never resurrect them afterwards.
func (w *cpWriter) flushSync(onResult func(writeResult)) {
	select {
	case <-w.in:
	default:
	}
	ack := make(chan struct{})
	w.in <- cpJob{flushAck: ack}
	for {
		select {
		case res := <-w.results:
			onResult(res)
		case <-ack:
			return
		}
	}
}

// close stops the writer after it drains the inbox.
func (w *cpWriter) close() { close(w.in) }

// run writes until the inbox closes, then closes results. Retries use
// bounded exponential backoff; exhaustion is reported, never swallowed.
func (w *cpWriter) run(ctx context.Context) {
	defer close(w.results)
	for job := range w.in {
		if job.flushAck != nil {
			close(job.flushAck)
			continue
		}
		w.results <- writeResult{
			sessionID: job.cp.SessionID,
			sequence:  job.cp.Sequence,
			cursor:    job.cp.ReadingCursor,
			err:       w.writeWithRetry(ctx, job),
		}
	}
}

func (w *cpWriter) writeWithRetry(ctx context.Context, job cpJob) error {
	delay := w.backoff
	var err error
	for attempt := 1; attempt <= w.retries; attempt++ {
		err = w.writeOnce(job)
		if err == nil {
			return nil
		}
		w.log.Warn("checkpoint write failed",
			"session_id", job.cp.SessionID, "sequence", job.cp.Sequence, "attempt", attempt, "error", err)
		if attempt == w.retries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (w *cpWriter) writeOnce(job cpJob) error {
	if job.prepare != nil {
		if err := job.prepare(); err != nil {
			return err
		}
	}
	return w.store.Write(job.cp)
}
