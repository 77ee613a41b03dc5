package sensor

import (
	"errors"
	"io"
	"time"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/monitoring"
	"github.com/banshee-data/trackedvideo/internal/recorder"
)

var replayLogf = monitoring.Component("Replay")

// Replay plays a recorded frame log back as a live sensor, one frame per
// tick. It reports not ready once the log is exhausted unless Loop is set.
type Replay struct {
	rp   *recorder.Replayer
	Loop bool

	frame acquisition.Frame
	ready bool
	done  bool
	read  int
}

// NewReplay creates a replay sensor over rp.
func NewReplay(rp *recorder.Replayer) *Replay {
	return &Replay{rp: rp}
}

// Attach subscribes the replay to a tick source.
func (r *Replay) Attach(ticks acquisition.TickSource) (cancel func()) {
	return ticks.Subscribe("replay-sensor", r.Advance)
}

// Advance loads the next recorded frame.
func (r *Replay) Advance(time.Time) {
	if r.done {
		return
	}
	rec, err := r.rp.ReadFrame()
	if errors.Is(err, io.EOF) && r.Loop && r.rp.TotalFrames() > 0 {
		if err = r.rp.Seek(0); err == nil {
			rec, err = r.rp.ReadFrame()
		}
	}
	if errors.Is(err, io.EOF) {
		replayLogf("end of log after %d frames", r.read)
		r.ready = false
		r.done = true
		return
	}
	if err != nil {
		replayLogf("skipping unreadable frame: %v", err)
		r.ready = false
		return
	}
	f, err := rec.Frame()
	if err != nil {
		replayLogf("skipping frame %d: %v", rec.FrameID, err)
		r.ready = false
		return
	}
	r.frame = f
	r.ready = true
	r.read++
}

// Done reports whether the log has been exhausted.
func (r *Replay) Done() bool { return r.done }

// Frames returns the number of frames played so far.
func (r *Replay) Frames() int { return r.read }

// IsReady reports whether a frame is available for this tick.
func (r *Replay) IsReady() bool { return r.ready }

// CurrentImage returns the frame loaded on the last tick.
func (r *Replay) CurrentImage() acquisition.Image { return r.frame.Image }

// CurrentTrackedMatrix returns the recorded probe pose.
func (r *Replay) CurrentTrackedMatrix() acquisition.Matrix4 { return r.frame.Tracked }

// CurrentTimestamp returns the recorded timestamp.
func (r *Replay) CurrentTimestamp() float64 { return r.frame.Timestamp }
