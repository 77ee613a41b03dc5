package acquisition

import (
	"fmt"
	"math"
)

// MaskThreshold is the mask value at or above which a pixel is kept.
const MaskThreshold = 128

// FanParams describes an ultrasound sector. Origin is in fractions of the
// image size, radii in fractions of the image height and angles in degrees
// from the downward vertical, negative to the left.
type FanParams struct {
	OriginX      float64 `json:"origin_x"`
	OriginY      float64 `json:"origin_y"`
	TopRadius    float64 `json:"top_radius"`
	BottomRadius float64 `json:"bottom_radius"`
	AngleLeft    float64 `json:"angle_left"`
	AngleRight   float64 `json:"angle_right"`
}

// DefaultFanParams returns a centred 90 degree sector.
func DefaultFanParams() FanParams {
	return FanParams{
		OriginX:      0.5,
		OriginY:      0,
		TopRadius:    0.05,
		BottomRadius: 0.95,
		AngleLeft:    -45,
		AngleRight:   45,
	}
}

// Mask is an 8-bit image selecting the valid region of a frame. Pixels at or
// above MaskThreshold are inside.
type Mask struct {
	width, height int
	params        FanParams
	pix           []byte
	custom        bool
	revision      uint64
	onChange      []func()
}

// NewMask returns a fan mask of the given size.
func NewMask(width, height int) *Mask {
	m := &Mask{width: width, height: height, params: DefaultFanParams()}
	m.generate()
	return m
}

// Width returns the mask width.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height.
func (m *Mask) Height() int { return m.height }

// Params returns the fan parameters.
func (m *Mask) Params() FanParams { return m.params }

// Revision increases on every mutation.
func (m *Mask) Revision() uint64 { return m.revision }

// Pixels returns a copy of the mask values.
func (m *Mask) Pixels() []byte {
	out := make([]byte, len(m.pix))
	copy(out, m.pix)
	return out
}

// SetSize resizes the mask. A custom mask is replaced by the fan.
func (m *Mask) SetSize(width, height int) {
	if width == m.width && height == m.height {
		return
	}
	m.width, m.height = width, height
	m.custom = false
	m.generate()
	m.changed()
}

// SetParams regenerates the fan with new parameters.
func (m *Mask) SetParams(p FanParams) {
	m.params = p
	m.custom = false
	m.generate()
	m.changed()
}

// SetPixels installs arbitrary mask values of the current size.
func (m *Mask) SetPixels(pix []byte) error {
	if len(pix) != m.width*m.height {
		return fmt.Errorf("%w: mask has %d values, want %d", ErrDimensionMismatch, len(pix), m.width*m.height)
	}
	m.pix = make([]byte, len(pix))
	copy(m.pix, pix)
	m.custom = true
	m.changed()
	return nil
}

// Inside reports whether (x, y) lies in the mask. Points outside the mask
// extent are outside.
func (m *Mask) Inside(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.pix[y*m.width+x] >= MaskThreshold
}

// OnChange registers fn to run after every mutation.
func (m *Mask) OnChange(fn func()) (cancel func()) {
	m.onChange = append(m.onChange, fn)
	idx := len(m.onChange) - 1
	return func() {
		if idx < len(m.onChange) {
			m.onChange[idx] = nil
		}
	}
}

// CopyFrom replaces size, parameters and values with those of o. Change
// observers of m are kept.
func (m *Mask) CopyFrom(o *Mask) {
	m.width, m.height = o.width, o.height
	m.params = o.params
	m.custom = o.custom
	m.pix = o.Pixels()
	m.changed()
}

func (m *Mask) changed() {
	m.revision++
	for _, fn := range m.onChange {
		if fn != nil {
			fn()
		}
	}
}

func (m *Mask) generate() {
	m.pix = make([]byte, m.width*m.height)
	p := m.params
	ox := p.OriginX * float64(m.width)
	oy := p.OriginY * float64(m.height)
	rTop := p.TopRadius * float64(m.height)
	rBottom := p.BottomRadius * float64(m.height)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			dx := float64(x) + 0.5 - ox
			dy := float64(y) + 0.5 - oy
			r := math.Hypot(dx, dy)
			if r < rTop || r > rBottom {
				continue
			}
			angle := math.Atan2(dx, dy) * 180 / math.Pi
			if angle < p.AngleLeft || angle > p.AngleRight {
				continue
			}
			m.pix[y*m.width+x] = 255
		}
	}
}
