package acquisition

import (
	"fmt"
	"time"

	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

var recLogf = monitoring.Component("Recording")

// SensorSource is a live tracked imaging device polled on every tick.
type SensorSource interface {
	CurrentImage() Image
	CurrentTrackedMatrix() Matrix4
	CurrentTimestamp() float64
	IsReady() bool
}

// TickSource delivers periodic callbacks on the engine goroutine.
type TickSource interface {
	Subscribe(name string, fn func(now time.Time)) (cancel func())
}

// RecordingState is the state of a RecordingController.
type RecordingState int

const (
	Idle RecordingState = iota
	Recording
)

func (s RecordingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("RecordingState(%d)", int(s))
	}
}

// RecordingStats counts what happened on recording ticks.
type RecordingStats struct {
	Ticks    int // ticks received while recording
	Appended int // frames appended, including the one captured by Start
	NotReady int // polls that found the sensor not ready
	Rejected int // captured frames the store refused
}

// AppendFunc stores one captured frame.
type AppendFunc func(img Image, tracked Matrix4, timestamp float64) error

// RecordingController polls a SensorSource on every tick of a TickSource and
// appends what it reads while in the Recording state.
type RecordingController struct {
	sensor  SensorSource
	ticks   TickSource
	appendF AppendFunc
	onStart func()

	state  RecordingState
	cancel func()
	stats  RecordingStats
}

// NewRecordingController wires a controller to its sensor, clock and sink.
// Either source may be nil and set later while idle.
func NewRecordingController(sensor SensorSource, ticks TickSource, appendFrame AppendFunc) *RecordingController {
	return &RecordingController{sensor: sensor, ticks: ticks, appendF: appendFrame}
}

// OnStart registers fn to run once Start has subscribed to ticks.
func (r *RecordingController) OnStart(fn func()) { r.onStart = fn }

// SetSensor swaps the sensor. Not allowed while recording.
func (r *RecordingController) SetSensor(s SensorSource) error {
	if r.state == Recording {
		return fmt.Errorf("%w: cannot change sensor while recording", ErrInvalidState)
	}
	r.sensor = s
	return nil
}

// SetTickSource swaps the clock. Not allowed while recording.
func (r *RecordingController) SetTickSource(t TickSource) error {
	if r.state == Recording {
		return fmt.Errorf("%w: cannot change tick source while recording", ErrInvalidState)
	}
	r.ticks = t
	return nil
}

// State returns Idle or Recording.
func (r *RecordingController) State() RecordingState { return r.state }

// IsRecording reports whether the controller is in the Recording state.
func (r *RecordingController) IsRecording() bool { return r.state == Recording }

// Stats returns the counters since the last Start.
func (r *RecordingController) Stats() RecordingStats { return r.stats }

// Start captures the current sensor frame if the sensor is ready, then
// enters Recording and subscribes to ticks.
func (r *RecordingController) Start() error {
	if r.state == Recording {
		return fmt.Errorf("%w: already recording", ErrInvalidState)
	}
	if r.sensor == nil || r.ticks == nil {
		return fmt.Errorf("%w: recording needs a sensor and a tick source", ErrInvalidState)
	}
	r.stats = RecordingStats{}
	r.capture()
	r.state = Recording
	r.cancel = r.ticks.Subscribe("recording", r.Tick)
	if r.onStart != nil {
		r.onStart()
	}
	recLogf("started, %d frame(s) captured on start", r.stats.Appended)
	return nil
}

// Tick appends the sensor's current frame when recording and ready.
// Otherwise it does nothing.
func (r *RecordingController) Tick(now time.Time) {
	if r.state != Recording {
		return
	}
	r.stats.Ticks++
	r.capture()
}

// Stop leaves the Recording state and unsubscribes from ticks. It is a
// no-op when idle.
func (r *RecordingController) Stop() {
	if r.state != Recording {
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.state = Idle
	recLogf("stopped after %d ticks: appended=%d not_ready=%d rejected=%d",
		r.stats.Ticks, r.stats.Appended, r.stats.NotReady, r.stats.Rejected)
}

func (r *RecordingController) capture() {
	if !r.sensor.IsReady() {
		r.stats.NotReady++
		return
	}
	err := r.appendF(r.sensor.CurrentImage(), r.sensor.CurrentTrackedMatrix(), r.sensor.CurrentTimestamp())
	if err != nil {
		r.stats.Rejected++
		recLogf("dropped live frame: %v", err)
		return
	}
	r.stats.Appended++
}
