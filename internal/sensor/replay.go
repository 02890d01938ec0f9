package sensor

import (
	"context"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// ReplaySource feeds a fixed reading sequence through the hub, used by the
// replay command and tests. Speed > 0 paces emission against the reading
// timestamps (1.0 = real time); zero emits as fast as the hub accepts.
type ReplaySource struct {
	SourceID string
	Readings []reading.Reading
	Speed    float64
}

func (s *ReplaySource) ID() string { return s.SourceID }

func (s *ReplaySource) Connect(ctx context.Context) error { return nil }

func (s *ReplaySource) Subscribe(ctx context.Context, emit func(reading.Reading)) error {
	var prev time.Time
	for _, r := range s.Readings {
		if s.Speed > 0 && !prev.IsZero() {
			gap := r.Timestamp.Sub(prev)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(float64(gap) / s.Speed)):
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		prev = r.Timestamp
		emit(r)
	}
	return nil
}

func (s *ReplaySource) Disconnect() error { return nil }
