package homeassistant

import (
	"context"
	"fmt"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/notify"
)

// ResultMessage is published for every classified capture
type ResultMessage struct {
	Filename   string    `json:"filename"`
	Label      string    `json:"label"`
	Predicted  string    `json:"predicted"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Known      bool      `json:"known"`
}

// Publisher is the MQTT notification sink
type Publisher struct {
	pub MessagePublisher
	cfg config.MQTTConfig
}

// NewPublisher creates the sink
func NewPublisher(pub MessagePublisher, cfg config.MQTTConfig) *Publisher {
	return &Publisher{pub: pub, cfg: cfg}
}

// Name implements notify.Notifier
func (p *Publisher) Name() string { return notify.SinkMQTT }

// Notify publishes the result, not retained
func (p *Publisher) Notify(ctx context.Context, ev notify.Event) error {
	msg := ResultMessage{
		Filename:   ev.Filename,
		Label:      ev.Label,
		Predicted:  ev.Predicted,
		Confidence: ev.Confidence,
		Timestamp:  ev.CapturedAt,
		Known:      ev.Known,
	}
	if err := p.pub.Publish(ResultTopic(p.cfg), msg); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}
