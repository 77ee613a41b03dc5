// Package sensor provides live frame sources for the acquisition engine: a
// synthetic tracked probe and a replay of a recorded frame log.
package sensor

import (
	"fmt"
	"time"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/timeutil"
)

// SyntheticConfig configures a Synthetic sensor.
type SyntheticConfig struct {
	Width    int
	Height   int
	Channels int
	// WarmupTicks is the number of ticks reported not ready.
	WarmupTicks int
	// Step is the distance the probe moves along Direction per tick.
	Step      float64
	Direction [3]float64
}

// DefaultSyntheticConfig returns a 640x480 gray probe sweeping 0.5 units
// per tick along z after three warm-up ticks.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Width:       640,
		Height:      480,
		Channels:    1,
		WarmupTicks: 3,
		Step:        0.5,
		Direction:   [3]float64{0, 0, 1},
	}
}

// Synthetic is a tracked probe that produces a moving gradient image and a
// pose translating along a line. It advances once per scheduler tick.
type Synthetic struct {
	cfg   SyntheticConfig
	start time.Time

	ticks int
	img   acquisition.Image
	pose  acquisition.Matrix4
	ts    float64
}

// NewSynthetic creates a synthetic sensor whose timestamps count from the
// clock's current time.
func NewSynthetic(cfg SyntheticConfig, clock timeutil.Clock) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid synthetic frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Channels != 1 && cfg.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", cfg.Channels)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Synthetic{
		cfg:   cfg,
		start: clock.Now(),
		img:   acquisition.NewImage(cfg.Width, cfg.Height, cfg.Channels),
		pose:  acquisition.Identity(),
	}, nil
}

// Attach subscribes the sensor to a tick source. Attach it before starting a
// recording so each tick records the frame generated for that tick.
func (s *Synthetic) Attach(ticks acquisition.TickSource) (cancel func()) {
	return ticks.Subscribe("synthetic-sensor", s.Advance)
}

// Advance generates the frame for the tick at now.
func (s *Synthetic) Advance(now time.Time) {
	s.ticks++
	s.ts = now.Sub(s.start).Seconds()

	n := float64(s.ticks - 1)
	d := s.cfg.Direction
	s.pose = acquisition.Translation(d[0]*s.cfg.Step*n, d[1]*s.cfg.Step*n, d[2]*s.cfg.Step*n)
	s.render()
}

func (s *Synthetic) render() {
	w, h, ch := s.img.Width, s.img.Height, s.img.Channels
	phase := s.ticks * 4
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (x*255/max(w-1, 1) + y*255/max(h-1, 1) + phase) / 2
			off := (y*w + x) * ch
			for c := 0; c < ch; c++ {
				s.img.Pix[off+c] = uint8((v + c*85) % 256)
			}
		}
	}
}

// Ticks returns the number of ticks seen.
func (s *Synthetic) Ticks() int { return s.ticks }

// IsReady reports whether warm-up is over.
func (s *Synthetic) IsReady() bool { return s.ticks > s.cfg.WarmupTicks }

// CurrentImage returns the latest generated image. The store copies it on
// append.
func (s *Synthetic) CurrentImage() acquisition.Image { return s.img }

// CurrentTrackedMatrix returns the latest probe pose.
func (s *Synthetic) CurrentTrackedMatrix() acquisition.Matrix4 { return s.pose }

// CurrentTimestamp returns seconds since the sensor was created.
func (s *Synthetic) CurrentTimestamp() float64 { return s.ts }
