package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		// Ticker fired as expected
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_NowSetSince(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)
	if !clock.Now().Equal(fixedTime) {
		t.Errorf("got %v, want %v", clock.Now(), fixedTime)
	}

	later := fixedTime.Add(90 * time.Second)
	clock.Set(later)
	if d := clock.Since(fixedTime); d != 90*time.Second {
		t.Errorf("Since = %v, want 90s", d)
	}
}

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	clock.Advance(20 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(13 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := time.Unix(0, 0).Add(33 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_TickerDropsTicksWhenBehind(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(10 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)
	clock.Advance(10 * time.Millisecond)
	clock.Advance(10 * time.Millisecond)

	n := 0
	for {
		select {
		case <-ticker.C():
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Errorf("received %d buffered ticks, want 1", n)
	}
}

func TestMockTicker_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	a := clock.NewTicker(10 * time.Millisecond)
	b := clock.NewTicker(10 * time.Millisecond)
	if clock.Tickers() != 2 {
		t.Fatalf("Tickers = %d, want 2", clock.Tickers())
	}

	a.Stop()
	a.Stop()
	if clock.Tickers() != 1 {
		t.Errorf("Tickers after Stop = %d, want 1", clock.Tickers())
	}
	clock.Advance(50 * time.Millisecond)
	select {
	case <-a.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	select {
	case <-b.C():
	default:
		t.Fatal("live ticker did not fire")
	}
}
