package recorder

import (
	"log/slog"

	"github.com/deancochran/gradientpeak-sub005/internal/rawlog"
	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// rawJob carries either a reading to append or, when sync is set, a
// durability barrier the writer acknowledges after flushing.
type rawJob struct {
	r    reading.Reading
	sync chan error
}

// rawWriter appends to a session's raw stream log off the ingestion path.
// The queue blocks when full instead of dropping: a stalled disk slows the
// loop down, it never loses a sample.
type rawWriter struct {
	log  *slog.Logger
	raw  *rawlog.Log
	in   chan rawJob
	done chan struct{}
}

func newRawWriter(raw *rawlog.Log, log *slog.Logger) *rawWriter {
	w := &rawWriter{
		log:  log,
		raw:  raw,
		in:   make(chan rawJob, 512),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *rawWriter) run() {
	defer close(w.done)
	var appendErr error
	for job := range w.in {
		if job.sync != nil {
			err := w.raw.Sync()
			if err == nil {
				err = appendErr
			}
			appendErr = nil
			job.sync <- err
			continue
		}
		if err := w.raw.Append(job.r); err != nil {
			// Surfaced at the next barrier so a checkpoint cannot claim a
			// cursor the log does not actually cover.
			appendErr = err
			w.log.Error("raw stream append failed", "source_id", job.r.SourceID, "error", err)
		}
	}
}

// append queues one reading. Called only by the processing loop.
func (w *rawWriter) append(r reading.Reading) {
	w.in <- rawJob{r: r}
}

// syncWait blocks until every reading queued before it is durable, and
// reports any append failure since the previous barrier. Safe to call from
// the checkpoint writer goroutine.
func (w *rawWriter) syncWait() error {
	ack := make(chan error, 1)
	w.in <- rawJob{sync: ack}
	return <-ack
}

// stop drains the queue and waits for the writer to exit. The underlying
// log stays open for the caller to seal or close.
func (w *rawWriter) stop() {
	close(w.in)
	<-w.done
}
