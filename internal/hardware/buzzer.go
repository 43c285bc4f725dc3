package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Switch is the part of a GPIO pin the buzzer needs
type Switch interface {
	Out(l gpio.Level) error
}

// Step is one segment of a buzzer pattern
type Step struct {
	On       bool
	Duration time.Duration
}

// Pattern returns the buzzer sequence for a label: three short beeps for an
// unknown visitor, one long beep otherwise. The comparison ignores case.
func Pattern(label, unknownLabel string) []Step {
	if strings.EqualFold(label, unknownLabel) {
		steps := make([]Step, 0, 6)
		for i := 0; i < 3; i++ {
			steps = append(steps,
				Step{On: true, Duration: 500 * time.Millisecond},
				Step{On: false, Duration: 500 * time.Millisecond},
			)
		}
		return steps
	}
	return []Step{{On: true, Duration: time.Second}}
}

// Buzzer drives an active buzzer on a GPIO pin
type Buzzer struct {
	pin   Switch
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBuzzer wraps pin
func NewBuzzer(pin Switch) *Buzzer {
	return &Buzzer{pin: pin, sleep: sleepCtx}
}

// Play runs steps and always leaves the buzzer off, also when ctx is cancelled
func (b *Buzzer) Play(ctx context.Context, steps []Step) (err error) {
	defer func() {
		if offErr := b.pin.Out(gpio.Low); offErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to switch buzzer off: %w", offErr))
		}
	}()

	for _, s := range steps {
		if err := b.pin.Out(gpio.Level(s.On)); err != nil {
			return fmt.Errorf("failed to drive buzzer: %w", err)
		}
		if err := b.sleep(ctx, s.Duration); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
