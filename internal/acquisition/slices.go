package acquisition

import (
	"fmt"
	"image"
	"math"
)

// MinStaticSlices is the smallest accepted number of static slices.
const MinStaticSlices = 2

// SampleIndices spreads n indices over a sequence of count frames:
// floor(count/n * i) for the first n-1 and count-1 for the last. It returns
// nil when count <= 1 or n < 2. Repeated indices are kept when n > count.
func SampleIndices(count, n int) []int {
	if count <= 1 || n < MinStaticSlices {
		return nil
	}
	interval := float64(count) / float64(n)
	out := make([]int, n)
	for i := 0; i < n-1; i++ {
		out[i] = int(math.Floor(interval * float64(i)))
	}
	out[n-1] = count - 1
	return out
}

// StaticSlice is one sampled frame ready for display.
type StaticSlice struct {
	Index     int
	Pose      Matrix4      // World x Tracked x Calibration x offset
	Colorized *image.NRGBA // colorized with the static slice lookup table
	Masked    *image.NRGBA // Colorized with the stencil applied
}

// Image returns the masked or unmasked rendering.
func (s StaticSlice) Image(useMask bool) *image.NRGBA {
	if useMask {
		return s.Masked
	}
	return s.Colorized
}

// SliceSampler keeps N evenly spaced frames of a FrameStore rendered for
// display. It recomputes lazily: changes only mark it stale and the next
// Slices call does the work.
type SliceSampler struct {
	store    *FrameStore
	composer *Composer
	mask     *Mask

	n      int
	lut    *LookupTable
	offset Matrix4

	stale      bool
	slices     []StaticSlice
	recomputes int
}

// NewSliceSampler creates a stale sampler of n slices coloured with the
// lookup table template lutIndex.
func NewSliceSampler(store *FrameStore, composer *Composer, mask *Mask, n, lutIndex int) (*SliceSampler, error) {
	if n < MinStaticSlices {
		return nil, fmt.Errorf("%w: %d static slices, need at least %d", ErrOutOfRange, n, MinStaticSlices)
	}
	lut, err := NewLookupTable(lutIndex)
	if err != nil {
		return nil, err
	}
	return &SliceSampler{
		store:    store,
		composer: composer,
		mask:     mask,
		n:        n,
		lut:      lut,
		offset:   Identity(),
		stale:    true,
	}, nil
}

// SetCount changes the number of slices.
func (s *SliceSampler) SetCount(n int) error {
	if n < MinStaticSlices {
		return fmt.Errorf("%w: %d static slices, need at least %d", ErrOutOfRange, n, MinStaticSlices)
	}
	if n != s.n {
		s.n = n
		s.stale = true
	}
	return nil
}

// Count returns the configured number of slices.
func (s *SliceSampler) Count() int { return s.n }

// SetLUTIndex selects the lookup table template for static slices.
func (s *SliceSampler) SetLUTIndex(index int) error {
	lut, err := NewLookupTable(index)
	if err != nil {
		return err
	}
	s.lut = lut
	s.stale = true
	return nil
}

// LUTIndex returns the static slice lookup table template index.
func (s *SliceSampler) LUTIndex() int { return s.lut.Index() }

// SetOffset sets an extra transform appended to every slice pose.
func (s *SliceSampler) SetOffset(m Matrix4) {
	s.offset = m
	s.stale = true
}

// Invalidate marks the slice set stale.
func (s *SliceSampler) Invalidate() { s.stale = true }

// Stale reports whether the next Slices call recomputes.
func (s *SliceSampler) Stale() bool { return s.stale }

// Recomputes returns how many times the slice set was rebuilt.
func (s *SliceSampler) Recomputes() int { return s.recomputes }

// Indices returns the indices the current store would sample.
func (s *SliceSampler) Indices() []int {
	return SampleIndices(s.store.Count(), s.n)
}

// Slices returns the sampled slices, recomputing them first when stale.
// With one frame or none it returns nil and stays stale. The images are
// owned by the sampler and replaced on the next recompute.
func (s *SliceSampler) Slices() []StaticSlice {
	if !s.stale {
		return s.slices
	}
	indices := s.Indices()
	if indices == nil {
		s.slices = nil
		return nil
	}
	slices := make([]StaticSlice, 0, len(indices))
	for _, idx := range indices {
		f := &s.store.frames[idx]
		rect := image.Rect(0, 0, f.Image.Width, f.Image.Height)
		colorized := image.NewNRGBA(rect)
		RenderChain(colorized, f.Image, ChainColorize, s.lut, s.mask)
		masked := image.NewNRGBA(rect)
		copy(masked.Pix, colorized.Pix)
		stencil(masked, s.mask)
		slices = append(slices, StaticSlice{
			Index:     idx,
			Pose:      s.composer.Compose(f.Tracked).Mul(s.offset),
			Colorized: colorized,
			Masked:    masked,
		})
	}
	s.slices = slices
	s.stale = false
	s.recomputes++
	return slices
}
