// Package hardware drives the doorbell's local feedback: a small OLED panel
// showing the last visitor and a buzzer.
package hardware

import (
	"context"
	"errors"
	"fmt"

	"smart-doorbell-go/config"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"
)

// Feedback shows a label and plays its buzzer pattern. Calls are serialised
// since there is one panel and one buzzer.
type Feedback struct {
	display      Display
	buzzer       *Buzzer
	unknownLabel string
	// one slot; a waiting Signal gives up when its context ends
	busy    chan struct{}
	closers []func() error
}

// NewFeedback assembles a driver from its parts
func NewFeedback(display Display, buzzer *Buzzer, unknownLabel string) *Feedback {
	return &Feedback{display: display, buzzer: buzzer, unknownLabel: unknownLabel, busy: make(chan struct{}, 1)}
}

// Open initialises the real devices. When hardware is disabled, or the host
// has no usable I2C bus or pin, it returns a driver that only logs.
func Open(cfg config.HardwareConfig, unknownLabel string) *Feedback {
	if !cfg.Enabled {
		log.Info("Hardware feedback is disabled in configuration")
		return logOnly(unknownLabel)
	}
	f, err := openDevices(cfg, unknownLabel)
	if err != nil {
		log.WithError(err).Warn("Hardware feedback unavailable, falling back to log output")
		return logOnly(unknownLabel)
	}
	return f
}

func openDevices(cfg config.HardwareConfig, unknownLabel string) (*Feedback, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise periph host: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", cfg.I2CBus, err)
	}

	oled, err := newOLED(bus, cfg.OLEDWidth, cfg.OLEDHeight)
	if err != nil {
		bus.Close()
		return nil, err
	}

	pin := gpioreg.ByName(cfg.BuzzerPin)
	if pin == nil {
		oled.Halt()
		bus.Close()
		return nil, fmt.Errorf("GPIO pin %s not found", cfg.BuzzerPin)
	}
	if err := pin.Out(gpio.Low); err != nil {
		oled.Halt()
		bus.Close()
		return nil, fmt.Errorf("failed to configure buzzer pin %s: %w", cfg.BuzzerPin, err)
	}

	log.Infof("Hardware feedback ready: SSD1306 %dx%d on %s, buzzer on %s", cfg.OLEDWidth, cfg.OLEDHeight, bus, pin)
	f := NewFeedback(oled, NewBuzzer(pin), unknownLabel)
	f.closers = []func() error{
		func() error { return pin.Out(gpio.Low) },
		oled.Halt,
		bus.Close,
	}
	return f, nil
}

func newOLED(bus i2c.Bus, w, h int) (*OLED, error) {
	dev, err := ssd1306.NewI2C(bus, &ssd1306.Opts{W: w, H: h})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise SSD1306: %w", err)
	}
	return &OLED{dev: dev, w: w, h: h}, nil
}

// Signal shows the label and plays its pattern. A display error does not
// keep the buzzer from sounding. A call whose context ends while another
// visitor is being signalled returns ctx.Err() without touching the devices.
func (f *Feedback) Signal(ctx context.Context, label string) error {
	select {
	case f.busy <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-f.busy }()
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	if err := f.display.ShowText(LabelText(label)); err != nil {
		errs = append(errs, err)
	}
	if f.buzzer != nil {
		if err := f.buzzer.Play(ctx, Pattern(label, f.unknownLabel)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the devices
func (f *Feedback) Close() error {
	f.busy <- struct{}{}
	defer func() { <-f.busy }()
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

type logDisplay struct{}

func (logDisplay) ShowText(text string) error {
	log.Infof("[display] %s", text)
	return nil
}

type logSwitch struct{}

func (logSwitch) Out(l gpio.Level) error {
	log.Debugf("[buzzer] %s", l)
	return nil
}

func logOnly(unknownLabel string) *Feedback {
	return NewFeedback(logDisplay{}, NewBuzzer(logSwitch{}), unknownLabel)
}
