// Package notify fans classification results out to independent sinks on a
// bounded worker pool. A slow, failing or panicking sink never affects the
// upload request or the other sinks.
package notify

import (
	"context"
	"time"

	"smart-doorbell-go/internal/capture"
)

// Sink names, also stored with each delivery
const (
	SinkRemoteLog = "remote_log"
	SinkHardware  = "hardware"
	SinkMQTT      = "mqtt"
	SinkLive      = "live"
)

// Event is one classified capture
type Event struct {
	CaptureID  uint
	Filename   string
	Label      string
	Predicted  string
	Confidence float64
	CapturedAt time.Time
	// Known is set when Label is a trained visitor rather than the unknown label
	Known bool
}

// Timestamp renders the capture time as "YYYY-MM-DD HH-MM-SS"
func (e Event) Timestamp() string {
	return capture.HumanTimestamp(e.CapturedAt)
}

// Notifier is a notification sink
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}
