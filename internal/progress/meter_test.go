package progress

import (
	"strings"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMeter_PercentAndETA(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := NewMeterWithNow(clock.now)
	m.Start(1000)

	clock.advance(time.Second)
	m.Set(250)

	s := m.Snapshot()
	if s.BytesDone != 250 {
		t.Errorf("BytesDone = %d, want 250", s.BytesDone)
	}
	if s.Percent != 25 {
		t.Errorf("Percent = %v, want 25", s.Percent)
	}
	// 250 B/s with 750 bytes left: 3 seconds remaining.
	if s.ETA != 3*time.Second {
		t.Errorf("ETA = %v, want 3s", s.ETA)
	}
}

func TestMeter_UnknownTotal(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := NewMeterWithNow(clock.now)
	m.Start(0)

	clock.advance(time.Second)
	m.Set(100)

	s := m.Snapshot()
	if s.Percent != 0 || s.ETA != 0 {
		t.Errorf("unknown total: Percent = %v, ETA = %v, want zeros", s.Percent, s.ETA)
	}
	if s.BytesDone != 100 {
		t.Errorf("BytesDone = %d, want 100", s.BytesDone)
	}
}

func TestMeter_SetIsMonotonic(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := NewMeterWithNow(clock.now)
	m.Start(100)

	clock.advance(time.Second)
	m.Set(50)
	m.Set(40) // stale update, ignored

	if s := m.Snapshot(); s.BytesDone != 50 {
		t.Errorf("BytesDone = %d, want 50", s.BytesDone)
	}
}

func TestMeter_RateSmoothing(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := NewMeterWithNow(clock.now)
	m.Start(10000)

	clock.advance(time.Second)
	m.Set(100) // 100 B/s
	clock.advance(time.Second)
	m.Set(1100) // instantaneous 1000 B/s

	s := m.Snapshot()
	if s.RateBps <= 100 || s.RateBps >= 1000 {
		t.Errorf("RateBps = %v, want a smoothed value between 100 and 1000", s.RateBps)
	}
}

func TestRenderLine(t *testing.T) {
	line := renderLine("reading cfg", Stats{BytesDone: 512, Total: 2048, Percent: 25, RateBps: 1024})
	for _, want := range []string{"reading cfg", "512 B", "2.0 KiB", "25.0%"} {
		if !strings.Contains(line, want) {
			t.Errorf("renderLine = %q, missing %q", line, want)
		}
	}
	line = renderLine("reading cfg", Stats{BytesDone: 512})
	if strings.Contains(line, "%") {
		t.Errorf("renderLine with unknown total = %q, should not show a percentage", line)
	}
}
