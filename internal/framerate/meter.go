// Package framerate measures how fast frames reach an acquisition and
// analyses the timing of recorded sequences.
package framerate

import (
	"time"

	"github.com/banshee-data/trackedvideo/internal/monitoring"
	"github.com/banshee-data/trackedvideo/internal/timeutil"
)

// DefaultWindow is the number of frames per measurement.
const DefaultWindow = 30

var logf = monitoring.Component("FrameRate")

// Measurement is one completed window.
type Measurement struct {
	Frames int
	Period time.Duration
}

// Rate returns frames per second, or 0 for an empty period.
func (m Measurement) Rate() float64 {
	if m.Period <= 0 {
		return 0
	}
	return float64(m.Frames) / m.Period.Seconds()
}

// Meter counts frames and reports the rate once per window of frames. It is
// driven from the engine goroutine and takes no locks.
type Meter struct {
	clock  timeutil.Clock
	window int

	running     bool
	start       time.Time
	accumulated int
	last        Measurement
	onMeasure   func(Measurement)
}

// NewMeter creates a stopped meter. A nil clock uses timeutil.RealClock.
func NewMeter(clock timeutil.Clock, window int) *Meter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Meter{clock: clock, window: window}
}

// OnMeasure registers a callback run after every completed window.
func (m *Meter) OnMeasure(fn func(Measurement)) { m.onMeasure = fn }

// SetWindow changes the number of frames per measurement and restarts the
// current window.
func (m *Meter) SetWindow(n int) {
	if n <= 0 {
		n = DefaultWindow
	}
	m.window = n
	m.reset()
}

// Window returns the number of frames per measurement.
func (m *Meter) Window() int { return m.window }

// SetRunning starts or stops counting.
func (m *Meter) SetRunning(run bool) {
	if run == m.running {
		return
	}
	m.running = run
	if run {
		m.reset()
	}
}

// IsRunning reports whether the meter is counting.
func (m *Meter) IsRunning() bool { return m.running }

func (m *Meter) reset() {
	m.accumulated = 0
	m.start = m.clock.Now()
}

// Frame counts one frame. It has the signature of an acquisition frame
// observer.
func (m *Meter) Frame(int) {
	if !m.running {
		return
	}
	m.accumulated++
	if m.accumulated < m.window {
		return
	}
	m.last = Measurement{Frames: m.accumulated, Period: m.clock.Since(m.start)}
	logf("%d frames in %v: %.1f fps", m.last.Frames, m.last.Period, m.last.Rate())
	m.reset()
	if m.onMeasure != nil {
		m.onMeasure(m.last)
	}
}

// Last returns the most recent completed measurement.
func (m *Meter) Last() Measurement { return m.last }

// LastRate returns the frame rate of the most recent window.
func (m *Meter) LastRate() float64 { return m.last.Rate() }
