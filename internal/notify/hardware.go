package notify

import "context"

// Signaler is the local feedback device
type Signaler interface {
	Signal(ctx context.Context, label string) error
}

// Hardware forwards events to the OLED and buzzer
type Hardware struct {
	device Signaler
}

// NewHardware wraps device
func NewHardware(device Signaler) *Hardware {
	return &Hardware{device: device}
}

// Name implements Notifier
func (h *Hardware) Name() string { return SinkHardware }

// Notify implements Notifier
func (h *Hardware) Notify(ctx context.Context, ev Event) error {
	return h.device.Signal(ctx, ev.Label)
}
