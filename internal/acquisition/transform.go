package acquisition

import "fmt"

// WorldPoser supplies the pose of an object in the shared scene, i.e. the
// final composed matrix the embedding spatial context assigns it.
type WorldPoser interface {
	WorldMatrix() Matrix4
}

// WorldNotifier is implemented by world posers whose matrix can change
// after SetWorld. A Composer subscribes to it and treats every callback as
// a world change. Posers that do not implement it are only re-read when
// SetWorld or WorldMoved is called.
type WorldNotifier interface {
	OnWorldChange(fn func()) (cancel func())
}

// FixedPose is a WorldPoser with a constant matrix.
type FixedPose Matrix4

// WorldMatrix implements WorldPoser.
func (p FixedPose) WorldMatrix() Matrix4 { return Matrix4(p) }

// Change identifies which input of a Composer was modified.
type Change int

const (
	CalibrationChanged Change = iota
	WorldChanged
	CurrentChanged
)

func (c Change) String() string {
	switch c {
	case CalibrationChanged:
		return "calibration"
	case WorldChanged:
		return "world"
	case CurrentChanged:
		return "current"
	default:
		return fmt.Sprintf("Change(%d)", int(c))
	}
}

type composerObserver struct {
	id int
	fn func(Change)
}

// Composer builds the displayed pose of a frame as
// World x Tracked x Calibration. Calibration and world changes never touch
// stored frames; composed matrices are recomputed on demand.
type Composer struct {
	world       WorldPoser
	unwatch     func()
	calibration Matrix4
	current     Matrix4

	observers []composerObserver
	nextID    int
}

// NewComposer returns a composer with identity calibration and current
// tracked matrix. A nil world is treated as the identity pose.
func NewComposer(world WorldPoser) *Composer {
	c := &Composer{
		calibration: Identity(),
		current:     Identity(),
	}
	c.watch(world)
	return c
}

// SetWorld replaces the world pose source.
func (c *Composer) SetWorld(world WorldPoser) {
	c.watch(world)
	c.notify(WorldChanged)
}

// WorldMoved reports that the matrix of the current world poser changed.
func (c *Composer) WorldMoved() { c.notify(WorldChanged) }

func (c *Composer) watch(world WorldPoser) {
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
	if world == nil {
		world = FixedPose(Identity())
	}
	c.world = world
	if n, ok := world.(WorldNotifier); ok {
		c.unwatch = n.OnWorldChange(c.WorldMoved)
	}
}

// World returns the current world matrix.
func (c *Composer) World() Matrix4 { return c.world.WorldMatrix() }

// SetCalibration stores a copy of m.
func (c *Composer) SetCalibration(m Matrix4) {
	c.calibration = m
	c.notify(CalibrationChanged)
}

// Calibration returns the calibration matrix.
func (c *Composer) Calibration() Matrix4 { return c.calibration }

// SetCurrentTracked sets the tracked matrix of the displayed frame.
func (c *Composer) SetCurrentTracked(m Matrix4) {
	c.current = m
	c.notify(CurrentChanged)
}

// CurrentTracked returns the tracked matrix of the displayed frame.
func (c *Composer) CurrentTracked() Matrix4 { return c.current }

// Compose returns World x tracked x Calibration.
func (c *Composer) Compose(tracked Matrix4) Matrix4 {
	return Concat(c.world.WorldMatrix(), tracked, c.calibration)
}

// Calibrated returns tracked x Calibration, the frame pose in the tracker
// reference without the world pose.
func (c *Composer) Calibrated(tracked Matrix4) Matrix4 {
	return tracked.Mul(c.calibration)
}

// Current returns the composed pose of the displayed frame.
func (c *Composer) Current() Matrix4 {
	return c.Compose(c.current)
}

// Observe registers fn to run after every change. The returned function
// removes it.
func (c *Composer) Observe(fn func(Change)) (cancel func()) {
	c.nextID++
	id := c.nextID
	c.observers = append(c.observers, composerObserver{id: id, fn: fn})
	return func() {
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Composer) notify(ch Change) {
	for _, o := range append([]composerObserver(nil), c.observers...) {
		o.fn(ch)
	}
}

// RelativeTo expresses m in the coordinate frame of other by multiplying
// with the inverse of other's final world matrix. Intermediate links of
// other's chain are never inverted separately.
func RelativeTo(m Matrix4, other WorldPoser) (Matrix4, error) {
	if other == nil {
		return m, nil
	}
	inv, err := other.WorldMatrix().Inverse()
	if err != nil {
		return Matrix4{}, fmt.Errorf("failed to express matrix relative to object: %w", err)
	}
	return inv.Mul(m), nil
}
