package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a frame does not match the
	// size or channel count established by the first frame.
	ErrDimensionMismatch = errors.New("frame dimensions do not match sequence")
	// ErrOutOfRange is returned for frame indices outside [0, count).
	ErrOutOfRange = errors.New("frame index out of range")
	// ErrNotReady is returned by one-shot captures when the sensor has no
	// valid frame. Recording ticks skip silently instead.
	ErrNotReady = errors.New("sensor not ready")
	// ErrInvalidState is returned for operations the recording state forbids.
	ErrInvalidState = errors.New("invalid state for operation")
)

// FrameStore is an append-only ordered sequence of frames with a current
// frame cursor. The first frame fixes the width, height and channel count
// for the rest of the sequence until Clear.
type FrameStore struct {
	frames  []Frame
	current int
}

// NewFrameStore returns an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{current: -1}
}

// Add appends a deep copy of img with its tracked matrix and timestamp.
// The cursor stays where it is, except that the first frame of an empty
// store becomes current.
func (s *FrameStore) Add(img Image, tracked Matrix4, timestamp float64) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	if len(s.frames) > 0 && !s.frames[0].Image.SameShape(img) {
		first := s.frames[0].Image
		return fmt.Errorf("%w: got %dx%dx%d, sequence is %dx%dx%d", ErrDimensionMismatch,
			img.Width, img.Height, img.Channels, first.Width, first.Height, first.Channels)
	}
	s.frames = append(s.frames, Frame{Image: img.Clone(), Tracked: tracked, Timestamp: timestamp})
	if s.current < 0 {
		s.current = 0
	}
	return nil
}

// Count returns the number of frames.
func (s *FrameStore) Count() int { return len(s.frames) }

// Frame returns a deep copy of frame i.
func (s *FrameStore) Frame(i int) (Frame, error) {
	if err := s.check(i); err != nil {
		return Frame{}, err
	}
	return s.frames[i].Clone(), nil
}

// view returns frame i without copying. Callers must not retain or modify it
// past the current call.
func (s *FrameStore) view(i int) (*Frame, error) {
	if err := s.check(i); err != nil {
		return nil, err
	}
	return &s.frames[i], nil
}

// Timestamp returns the capture time of frame i.
func (s *FrameStore) Timestamp(i int) (float64, error) {
	if err := s.check(i); err != nil {
		return 0, err
	}
	return s.frames[i].Timestamp, nil
}

// Matrix returns the tracked matrix of frame i.
func (s *FrameStore) Matrix(i int) (Matrix4, error) {
	if err := s.check(i); err != nil {
		return Matrix4{}, err
	}
	return s.frames[i].Tracked, nil
}

// Timestamps returns all capture times in order.
func (s *FrameStore) Timestamps() []float64 {
	out := make([]float64, len(s.frames))
	for i := range s.frames {
		out[i] = s.frames[i].Timestamp
	}
	return out
}

// SetCurrent moves the cursor.
func (s *FrameStore) SetCurrent(i int) error {
	if err := s.check(i); err != nil {
		return err
	}
	s.current = i
	return nil
}

// Current returns the cursor, or -1 when the store is empty.
func (s *FrameStore) Current() int { return s.current }

// Clear removes every frame and forgets the established frame size.
func (s *FrameStore) Clear() {
	s.frames = nil
	s.current = -1
}

// FrameWidth returns the established width, or 0 when empty.
func (s *FrameStore) FrameWidth() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[0].Image.Width
}

// FrameHeight returns the established height, or 0 when empty.
func (s *FrameStore) FrameHeight() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[0].Image.Height
}

// Channels returns the established channel count, or 0 when empty.
func (s *FrameStore) Channels() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[0].Image.Channels
}

func (s *FrameStore) check(i int) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("%w: %d (count %d)", ErrOutOfRange, i, len(s.frames))
	}
	return nil
}
