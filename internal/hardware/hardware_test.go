package hardware

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

type fakeSwitch struct {
	levels []gpio.Level
	fail   bool
}

func (s *fakeSwitch) Out(l gpio.Level) error {
	s.levels = append(s.levels, l)
	if s.fail && l == gpio.High {
		return errors.New("pin busy")
	}
	return nil
}

type fakeDisplay struct {
	texts []string
	err   error
}

func (d *fakeDisplay) ShowText(text string) error {
	d.texts = append(d.texts, text)
	return d.err
}

func newTestBuzzer(pin Switch) (*Buzzer, *[]time.Duration) {
	var slept []time.Duration
	b := NewBuzzer(pin)
	b.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return b, &slept
}

func TestPattern(t *testing.T) {
	tests := []struct {
		label  string
		steps  int
		onTime time.Duration
	}{
		{"unknown", 6, 1500 * time.Millisecond},
		{"Unknown", 6, 1500 * time.Millisecond},
		{"UNKNOWN", 6, 1500 * time.Millisecond},
		{"alice", 1, time.Second},
	}

	for _, tt := range tests {
		steps := Pattern(tt.label, "unknown")
		if len(steps) != tt.steps {
			t.Errorf("Pattern(%q) has %d steps, want %d", tt.label, len(steps), tt.steps)
			continue
		}
		var on time.Duration
		for _, s := range steps {
			if s.On {
				on += s.Duration
			}
		}
		if on != tt.onTime {
			t.Errorf("Pattern(%q) is on for %v, want %v", tt.label, on, tt.onTime)
		}
	}

	// three on/off pairs of half a second each
	for i, s := range Pattern("unknown", "unknown") {
		if s.On != (i%2 == 0) || s.Duration != 500*time.Millisecond {
			t.Errorf("step %d = %+v", i, s)
		}
	}
}

func TestBuzzer_Play(t *testing.T) {
	pin := &fakeSwitch{}
	b, slept := newTestBuzzer(pin)

	if err := b.Play(context.Background(), Pattern("alice", "unknown")); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	want := []gpio.Level{gpio.High, gpio.Low}
	if len(pin.levels) != len(want) || pin.levels[0] != want[0] || pin.levels[1] != want[1] {
		t.Errorf("levels = %v, want %v", pin.levels, want)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("slept %v", *slept)
	}
}

func TestBuzzer_CancelLeavesPinLow(t *testing.T) {
	pin := &fakeSwitch{}
	b, _ := newTestBuzzer(pin)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Play(ctx, Pattern("unknown", "unknown")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if last := pin.levels[len(pin.levels)-1]; last != gpio.Low {
		t.Errorf("buzzer left %v after cancel", last)
	}
}

func TestFeedback_Signal(t *testing.T) {
	display := &fakeDisplay{err: errors.New("i2c nack")}
	pin := &fakeSwitch{}
	b, _ := newTestBuzzer(pin)
	f := NewFeedback(display, b, "unknown")

	err := f.Signal(context.Background(), "unknown")
	if err == nil {
		t.Errorf("expected display error to be reported")
	}
	if len(display.texts) != 1 || display.texts[0] != "Detected: unknown" {
		t.Errorf("unexpected display text %v", display.texts)
	}
	// 3 beeps: high, low per step pair plus the final off
	if len(pin.levels) != 7 {
		t.Errorf("buzzer should still sound after a display error, levels %v", pin.levels)
	}

	if err := f.Close(); err != nil {
		t.Errorf("Close without devices failed: %v", err)
	}
}

func TestFeedback_ExpiredSignalSkipsDevices(t *testing.T) {
	display := &fakeDisplay{}
	pin := &fakeSwitch{}
	b, _ := newTestBuzzer(pin)
	f := NewFeedback(display, b, "unknown")

	// another visitor is being signalled
	f.busy <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Signal(ctx, "alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if len(display.texts) != 0 || len(pin.levels) != 0 {
		t.Errorf("expired signal touched the devices: %v %v", display.texts, pin.levels)
	}

	<-f.busy
	if err := f.Signal(context.Background(), "alice"); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if len(display.texts) != 1 || display.texts[0] != "Detected: alice" {
		t.Errorf("unexpected display text %v", display.texts)
	}
}

func TestRender(t *testing.T) {
	img := Render(128, 64, LabelText("alice"))

	lit := func(y0, y1 int) int {
		n := 0
		for y := y0; y < y1; y++ {
			for x := 0; x < 128; x++ {
				if isOn(img.At(x, y)) {
					n++
				}
			}
		}
		return n
	}

	if n := lit(0, TextTop); n != 0 {
		t.Errorf("%d pixels lit above the text line", n)
	}
	if n := lit(TextTop, TextTop+13); n == 0 {
		t.Errorf("text line is blank")
	}
	if n := lit(TextTop+13, 64); n != 0 {
		t.Errorf("%d pixels lit below the text line", n)
	}
}

func isOn(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r|g|b != 0
}
