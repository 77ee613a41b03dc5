package acquisition

import (
	"fmt"
	"image"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

var acqLogf = monitoring.Component("Acquisition")

// Type is the ultrasound acquisition mode.
type Type int

const (
	TypeBMode Type = iota
	TypeDoppler
	TypePowerDoppler
)

var typeNames = [...]string{
	TypeBMode:        "B-Mode",
	TypeDoppler:      "Doppler",
	TypePowerDoppler: "Power Doppler",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "Unknown"
	}
	return typeNames[t]
}

// ParseType accepts the names produced by Type.String, case-insensitively.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return TypeBMode, fmt.Errorf("unknown acquisition type %q", s)
}

// ColorString names the pixel format for a channel count.
func ColorString(channels int) string {
	switch channels {
	case 1:
		return "Grayscale"
	case 3:
		return "RGB"
	default:
		return "Unknown"
	}
}

// Options configures a new Acquisition.
type Options struct {
	Name    string
	BaseDir string

	World  WorldPoser
	Sensor SensorSource
	Ticks  TickSource

	// DefaultWidth and DefaultHeight size the mask before the first frame.
	DefaultWidth  int
	DefaultHeight int

	LUTIndex       int
	StaticLUTIndex int
	StaticSlices   int
	UseMask        bool
	SliceOpacity   float64
	StaticOpacity  float64
}

// DefaultOptions returns the options used when no configuration is loaded.
func DefaultOptions() Options {
	return Options{
		DefaultWidth:   640,
		DefaultHeight:  480,
		LUTIndex:       1,
		StaticLUTIndex: 0,
		StaticSlices:   2,
		UseMask:        true,
		SliceOpacity:   1,
		StaticOpacity:  1,
	}
}

// StaticView is one static slice as handed to a SliceSurface.
type StaticView struct {
	Index int
	Pose  Matrix4
	Image *image.NRGBA
}

// SliceSurface displays the static slices of an acquisition.
type SliceSurface interface {
	SetSlices(slices []StaticView)
	SetVisible(visible bool)
	SetOpacity(opacity float64)
}

type attachedSliceSurface struct {
	id int
	s  SliceSurface
}

type frameObserver struct {
	id int
	fn func(index int)
}

// ProbeInfo is the description of an ultrasound probe an acquisition can
// take its settings from.
type ProbeInfo struct {
	Type            Type
	Depth           string
	CalibrationName string
	Calibration     Matrix4
	Mask            *Mask // optional
}

// MatrixOptions selects how FrameMatrix expresses a frame pose.
type MatrixOptions struct {
	Calibrated bool       // append the calibration transform
	RelativeTo WorldPoser // express in this object's frame when set
}

// Acquisition is a tracked image sequence with its pose composition,
// display pipeline, static slices and live recording.
type Acquisition struct {
	id              string
	name            string
	baseDir         string
	acqType         Type
	depth           string
	calibrationName string

	store    *FrameStore
	composer *Composer
	mask     *Mask
	pipeline *Pipeline
	sampler  *SliceSampler
	rec      *RecordingController

	defaultWidth  int
	defaultHeight int

	hidden         bool
	staticEnabled  bool
	staticOpacity  float64
	sliceSurfaces  []attachedSliceSurface
	nextSliceID    int
	frameObservers []frameObserver
	nextObserverID int
}

// New builds an empty acquisition.
func New(opts Options) (*Acquisition, error) {
	if opts.DefaultWidth <= 0 || opts.DefaultHeight <= 0 {
		return nil, fmt.Errorf("invalid default frame size %dx%d", opts.DefaultWidth, opts.DefaultHeight)
	}
	a := &Acquisition{
		id:            uuid.New().String(),
		name:          opts.Name,
		baseDir:       opts.BaseDir,
		store:         NewFrameStore(),
		composer:      NewComposer(opts.World),
		mask:          NewMask(opts.DefaultWidth, opts.DefaultHeight),
		defaultWidth:  opts.DefaultWidth,
		defaultHeight: opts.DefaultHeight,
		staticOpacity: clamp01(opts.StaticOpacity),
	}
	if a.name == "" {
		a.name = "Acquisition"
	}

	var err error
	a.pipeline, err = NewPipeline(a.currentView, a.mask, opts.LUTIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.pipeline.SetUseMask(opts.UseMask)
	a.pipeline.SetOpacity(opts.SliceOpacity)
	a.pipeline.SetVisible(false)

	a.sampler, err = NewSliceSampler(a.store, a.composer, a.mask, opts.StaticSlices, opts.StaticLUTIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create static slice sampler: %w", err)
	}

	a.rec = NewRecordingController(opts.Sensor, opts.Ticks, a.appendFrame)
	a.rec.OnStart(func() {
		a.staticEnabled = false
		a.refreshStatic()
	})

	a.composer.Observe(a.poseChanged)
	a.mask.OnChange(a.UpdateMask)
	return a, nil
}

// ID returns the unique identifier assigned at creation.
func (a *Acquisition) ID() string { return a.id }

// SetID replaces the identifier, e.g. when restoring from a catalog.
func (a *Acquisition) SetID(id string) { a.id = id }

func (a *Acquisition) Name() string        { return a.name }
func (a *Acquisition) SetName(name string) { a.name = name }
func (a *Acquisition) BaseDir() string     { return a.baseDir }
func (a *Acquisition) SetBaseDir(d string) { a.baseDir = d }
func (a *Acquisition) Type() Type          { return a.acqType }
func (a *Acquisition) SetType(t Type)      { a.acqType = t }
func (a *Acquisition) Depth() string       { return a.depth }
func (a *Acquisition) SetDepth(d string)   { a.depth = d }

// TypeString returns the display name of the acquisition type.
func (a *Acquisition) TypeString() string { return a.acqType.String() }

// ColorString describes the pixel format of the stored frames.
func (a *Acquisition) ColorString() string { return ColorString(a.store.Channels()) }

// Count returns the number of frames.
func (a *Acquisition) Count() int { return a.store.Count() }

// CurrentFrame returns the cursor, -1 when empty.
func (a *Acquisition) CurrentFrame() int { return a.store.Current() }

// Frame returns a deep copy of frame i.
func (a *Acquisition) Frame(i int) (Frame, error) { return a.store.Frame(i) }

// Timestamp returns the capture time of frame i.
func (a *Acquisition) Timestamp(i int) (float64, error) { return a.store.Timestamp(i) }

// Timestamps returns every capture time in order.
func (a *Acquisition) Timestamps() []float64 { return a.store.Timestamps() }

// CurrentTimestamp returns the capture time of the current frame, 0 when
// empty.
func (a *Acquisition) CurrentTimestamp() float64 {
	ts, err := a.store.Timestamp(a.store.Current())
	if err != nil {
		return 0
	}
	return ts
}

// FrameWidth returns the frame width, or the default width while empty.
func (a *Acquisition) FrameWidth() int {
	if a.store.Count() == 0 {
		return a.defaultWidth
	}
	return a.store.FrameWidth()
}

// FrameHeight returns the frame height, or the default height while empty.
func (a *Acquisition) FrameHeight() int {
	if a.store.Count() == 0 {
		return a.defaultHeight
	}
	return a.store.FrameHeight()
}

// Channels returns the channel count of the frames, 0 while empty.
func (a *Acquisition) Channels() int { return a.store.Channels() }

// AddFrame appends a frame. It fails with ErrInvalidState while recording.
func (a *Acquisition) AddFrame(img Image, tracked Matrix4, timestamp float64) error {
	if a.rec.IsRecording() {
		return fmt.Errorf("%w: cannot add frames while recording", ErrInvalidState)
	}
	return a.appendFrame(img, tracked, timestamp)
}

// CaptureFrame appends the sensor's current frame once, outside of
// recording.
func (a *Acquisition) CaptureFrame() error {
	if a.rec.IsRecording() {
		return fmt.Errorf("%w: cannot capture while recording", ErrInvalidState)
	}
	s := a.rec.sensor
	if s == nil {
		return fmt.Errorf("%w: no sensor", ErrInvalidState)
	}
	if !s.IsReady() {
		return ErrNotReady
	}
	return a.appendFrame(s.CurrentImage(), s.CurrentTrackedMatrix(), s.CurrentTimestamp())
}

func (a *Acquisition) appendFrame(img Image, tracked Matrix4, timestamp float64) error {
	first := a.store.Count() == 0
	if err := a.store.Add(img, tracked, timestamp); err != nil {
		return err
	}
	if first {
		a.mask.SetSize(img.Width, img.Height)
		a.syncCurrent()
		a.refreshVisibility()
	}
	a.sampler.Invalidate()
	idx := a.store.Count() - 1
	for _, o := range append([]frameObserver(nil), a.frameObservers...) {
		o.fn(idx)
	}
	return nil
}

// OnFrameAdded registers fn to run with the index of every appended frame.
func (a *Acquisition) OnFrameAdded(fn func(index int)) (cancel func()) {
	a.nextObserverID++
	id := a.nextObserverID
	a.frameObservers = append(a.frameObservers, frameObserver{id: id, fn: fn})
	return func() {
		for i, o := range a.frameObservers {
			if o.id == id {
				a.frameObservers = append(a.frameObservers[:i], a.frameObservers[i+1:]...)
				return
			}
		}
	}
}

// SetCurrentFrame moves the cursor and refreshes the displayed pose.
func (a *Acquisition) SetCurrentFrame(i int) error {
	if err := a.store.SetCurrent(i); err != nil {
		return err
	}
	a.syncCurrent()
	return nil
}

func (a *Acquisition) syncCurrent() {
	m, err := a.store.Matrix(a.store.Current())
	if err != nil {
		m = Identity()
	}
	a.pipeline.Invalidate()
	a.composer.SetCurrentTracked(m)
}

func (a *Acquisition) currentView() *Frame {
	f, err := a.store.view(a.store.Current())
	if err != nil {
		return nil
	}
	return f
}

// Clear drops every frame. Not allowed while recording.
func (a *Acquisition) Clear() error {
	if a.rec.IsRecording() {
		return fmt.Errorf("%w: cannot clear while recording", ErrInvalidState)
	}
	a.store.Clear()
	a.sampler.Invalidate()
	a.syncCurrent()
	a.refreshVisibility()
	a.refreshStatic()
	return nil
}

// SetSensor swaps the live sensor while idle.
func (a *Acquisition) SetSensor(s SensorSource) error { return a.rec.SetSensor(s) }

// SetTickSource swaps the clock while idle.
func (a *Acquisition) SetTickSource(t TickSource) error { return a.rec.SetTickSource(t) }

// Start begins live recording. Static slices are switched off.
func (a *Acquisition) Start() error { return a.rec.Start() }

// Stop ends live recording. No-op when idle.
func (a *Acquisition) Stop() { a.rec.Stop() }

// IsRecording reports whether live recording is active.
func (a *Acquisition) IsRecording() bool { return a.rec.IsRecording() }

// RecordingStats returns the counters of the last recording session.
func (a *Acquisition) RecordingStats() RecordingStats { return a.rec.Stats() }

// Calibration returns the calibration matrix.
func (a *Acquisition) Calibration() Matrix4 { return a.composer.Calibration() }

// CalibrationName returns the name of the calibration in use.
func (a *Acquisition) CalibrationName() string { return a.calibrationName }

// SetCalibration replaces the calibration matrix. Stored frames are not
// modified.
func (a *Acquisition) SetCalibration(m Matrix4) { a.composer.SetCalibration(m) }

// SetWorld replaces the world pose source.
func (a *Acquisition) SetWorld(w WorldPoser) { a.composer.SetWorld(w) }

// WorldMoved reports that the matrix of the current world poser changed
// without SetWorld being called.
func (a *Acquisition) WorldMoved() { a.composer.WorldMoved() }

// WorldMatrix implements WorldPoser so acquisitions can be used as a
// reference for each other.
func (a *Acquisition) WorldMatrix() Matrix4 { return a.composer.World() }

// OnWorldChange implements WorldNotifier. fn runs whenever the world
// matrix of a changes.
func (a *Acquisition) OnWorldChange(fn func()) (cancel func()) {
	return a.composer.Observe(func(ch Change) {
		if ch == WorldChanged {
			fn()
		}
	})
}

// Transform returns the composed pose of the current frame.
func (a *Acquisition) Transform() Matrix4 { return a.composer.Current() }

// FrameData returns a copy of frame i and its World x Tracked x Calibration
// pose without moving the cursor.
func (a *Acquisition) FrameData(i int) (Image, Matrix4, error) {
	f, err := a.store.Frame(i)
	if err != nil {
		return Image{}, Matrix4{}, err
	}
	return f.Image, a.composer.Compose(f.Tracked), nil
}

// FrameMatrix returns the tracked matrix of frame i, optionally with the
// calibration appended and expressed relative to another object.
func (a *Acquisition) FrameMatrix(i int, opts MatrixOptions) (Matrix4, error) {
	m, err := a.store.Matrix(i)
	if err != nil {
		return Matrix4{}, err
	}
	if opts.Calibrated {
		m = a.composer.Calibrated(m)
	}
	return RelativeTo(m, opts.RelativeTo)
}

func (a *Acquisition) poseChanged(ch Change) {
	a.pipeline.SetTransform(a.composer.Current())
	if ch == CalibrationChanged || ch == WorldChanged {
		a.sampler.Invalidate()
		a.refreshStatic()
	}
}

// SetUseMask selects masked display of the current and static slices.
func (a *Acquisition) SetUseMask(on bool) {
	a.pipeline.SetUseMask(on)
	a.refreshStatic()
}

// UseMask reports whether the mask is applied for display.
func (a *Acquisition) UseMask() bool { return a.pipeline.UseMask() }

// SetAlternateModality switches the current slice between LUT colouring
// and 4-channel padding.
func (a *Acquisition) SetAlternateModality(on bool) { a.pipeline.SetAlternateModality(on) }

// AlternateModality reports whether the padding chains are active.
func (a *Acquisition) AlternateModality() bool { return a.pipeline.AlternateModality() }

// SetLUTIndex selects the current slice lookup table.
func (a *Acquisition) SetLUTIndex(i int) error { return a.pipeline.SetLUTIndex(i) }

// LUTIndex returns the current slice lookup table index.
func (a *Acquisition) LUTIndex() int { return a.pipeline.LUTIndex() }

// SetStaticLUTIndex selects the static slice lookup table.
func (a *Acquisition) SetStaticLUTIndex(i int) error {
	if err := a.sampler.SetLUTIndex(i); err != nil {
		return err
	}
	a.refreshStatic()
	return nil
}

// StaticLUTIndex returns the static slice lookup table index.
func (a *Acquisition) StaticLUTIndex() int { return a.sampler.LUTIndex() }

// SetSliceOpacity sets the current slice opacity, clamped to [0,1].
func (a *Acquisition) SetSliceOpacity(o float64) { a.pipeline.SetOpacity(o) }

// SliceOpacity returns the current slice opacity.
func (a *Acquisition) SliceOpacity() float64 { return a.pipeline.Opacity() }

// SetStaticOpacity sets the static slice opacity, clamped to [0,1].
func (a *Acquisition) SetStaticOpacity(o float64) {
	a.staticOpacity = clamp01(o)
	for _, s := range a.sliceSurfaces {
		s.s.SetOpacity(a.staticOpacity)
	}
}

// StaticOpacity returns the static slice opacity.
func (a *Acquisition) StaticOpacity() float64 { return a.staticOpacity }

// SetStaticSlicesEnabled shows or hides static slices. Enabling fails with
// ErrInvalidState while recording.
func (a *Acquisition) SetStaticSlicesEnabled(on bool) error {
	if on && a.rec.IsRecording() {
		return fmt.Errorf("%w: static slices unavailable while recording", ErrInvalidState)
	}
	a.staticEnabled = on
	a.refreshStatic()
	return nil
}

// StaticSlicesEnabled reports whether static slices are shown.
func (a *Acquisition) StaticSlicesEnabled() bool { return a.staticEnabled }

// SetNumberOfStaticSlices changes how many frames are sampled.
func (a *Acquisition) SetNumberOfStaticSlices(n int) error {
	if err := a.sampler.SetCount(n); err != nil {
		return err
	}
	a.refreshStatic()
	return nil
}

// NumberOfStaticSlices returns the configured static slice count.
func (a *Acquisition) NumberOfStaticSlices() int { return a.sampler.Count() }

// StaticSlices returns the sampled slices, recomputing them when stale.
// A recompute is also pushed to attached slice surfaces. Appending frames
// only marks the set stale.
func (a *Acquisition) StaticSlices() []StaticSlice {
	stale := a.sampler.Stale()
	slices := a.sampler.Slices()
	if stale {
		a.refreshStatic()
	}
	return slices
}

// StaticIndices returns the frame indices static slices are drawn from.
func (a *Acquisition) StaticIndices() []int { return a.sampler.Indices() }

// StaticSlicesStale reports whether the static slices need a recompute.
func (a *Acquisition) StaticSlicesStale() bool { return a.sampler.Stale() }

// Mask returns the mask. Mutating it refreshes the display.
func (a *Acquisition) Mask() *Mask { return a.mask }

// UpdateMask reacts to a mask change: the stencil is refreshed on the next
// read, static slices are recomputed and the current frame is kept.
func (a *Acquisition) UpdateMask() {
	a.pipeline.Invalidate()
	a.sampler.Invalidate()
	a.refreshStatic()
}

// Output returns the pipeline output on port.
func (a *Acquisition) Output(port Port) Output { return a.pipeline.Port(port) }

// MaskedOutput returns the masked port.
func (a *Acquisition) MaskedOutput() Output { return a.pipeline.Port(PortMasked) }

// UnmaskedOutput returns the unmasked port.
func (a *Acquisition) UnmaskedOutput() Output { return a.pipeline.Port(PortUnmasked) }

// ActiveOutput returns the output surfaces are connected to.
func (a *Acquisition) ActiveOutput() Output { return a.pipeline.Active() }

// Attach connects a current slice surface.
func (a *Acquisition) Attach(s Surface) int { return a.pipeline.Attach(s) }

// Detach disconnects a current slice surface.
func (a *Acquisition) Detach(id int) { a.pipeline.Detach(id) }

// AttachStatic connects a static slice surface.
func (a *Acquisition) AttachStatic(s SliceSurface) int {
	a.nextSliceID++
	a.sliceSurfaces = append(a.sliceSurfaces, attachedSliceSurface{id: a.nextSliceID, s: s})
	s.SetOpacity(a.staticOpacity)
	a.pushStatic(s)
	return a.nextSliceID
}

// DetachStatic disconnects a static slice surface.
func (a *Acquisition) DetachStatic(id int) {
	for i, s := range a.sliceSurfaces {
		if s.id == id {
			a.sliceSurfaces = append(a.sliceSurfaces[:i], a.sliceSurfaces[i+1:]...)
			return
		}
	}
}

// Show makes the acquisition visible on attached surfaces.
func (a *Acquisition) Show() {
	a.hidden = false
	a.refreshVisibility()
	a.refreshStatic()
}

// Hide removes the acquisition from attached surfaces.
func (a *Acquisition) Hide() {
	a.hidden = true
	a.refreshVisibility()
	a.refreshStatic()
}

// Visible reports whether the acquisition is shown.
func (a *Acquisition) Visible() bool { return !a.hidden }

func (a *Acquisition) refreshVisibility() {
	a.pipeline.SetVisible(!a.hidden && a.store.Count() > 0)
}

func (a *Acquisition) staticVisible() bool {
	return !a.hidden && a.staticEnabled && a.store.Count() > 1
}

// refreshStatic pushes static slices to surfaces. Nothing is computed
// unless a surface would show them.
func (a *Acquisition) refreshStatic() {
	for _, s := range a.sliceSurfaces {
		a.pushStatic(s.s)
	}
}

func (a *Acquisition) pushStatic(s SliceSurface) {
	if !a.staticVisible() {
		s.SetVisible(false)
		return
	}
	slices := a.sampler.Slices()
	views := make([]StaticView, len(slices))
	for i, sl := range slices {
		views[i] = StaticView{Index: sl.Index, Pose: sl.Pose, Image: sl.Image(a.UseMask())}
	}
	s.SetSlices(views)
	s.SetVisible(true)
}

// SetProbe takes the acquisition type, depth, calibration and mask from a
// probe description.
func (a *Acquisition) SetProbe(p ProbeInfo) {
	a.acqType = p.Type
	a.depth = p.Depth
	a.calibrationName = p.CalibrationName
	a.SetCalibration(p.Calibration)
	if p.Mask != nil {
		a.mask.CopyFrom(p.Mask)
	}
	acqLogf("probe settings applied: type=%s depth=%q calibration=%q", p.Type, p.Depth, p.CalibrationName)
}
