// Package sensor merges heterogeneous sensor sources into one
// timestamp-ordered reading stream. Sources come and go while recording;
// losing one produces a gap in that signal, never a halted stream.
package sensor

import (
	"context"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// Source is the capability a platform sensor binding must provide. GPS and
// BLE adapters implement it; replay implements it for files.
//
// Subscribe blocks, calling emit for every sample, until the stream ends
// or fails. A nil return means the source ended deliberately and the hub
// will not reconnect; an error triggers backoff reconnection.
type Source interface {
	ID() string
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, emit func(reading.Reading)) error
	Disconnect() error
}

// Status describes a source's connectivity. Delivered as events on the
// status channel, never as errors in the reading stream.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// StatusEvent is one connectivity change.
type StatusEvent struct {
	SourceID string    `json:"source_id"`
	Status   Status    `json:"status"`
	Attempt  int       `json:"attempt,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
