package acquisition

import (
	"errors"
	"testing"
)

func TestFrameStore_AddIncrementsCount(t *testing.T) {
	s := NewFrameStore()
	if s.Current() != -1 {
		t.Fatalf("empty store cursor = %d, want -1", s.Current())
	}
	for i := 0; i < 3; i++ {
		if err := s.Add(grayImage(4, 3, byte(i)), Translation(float64(i), 0, 0), float64(i)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		if s.Count() != i+1 {
			t.Errorf("after %d adds Count = %d", i+1, s.Count())
		}
	}
	if s.Current() != 0 {
		t.Errorf("cursor after first add = %d, want 0", s.Current())
	}
}

func TestFrameStore_MismatchDoesNotMutate(t *testing.T) {
	s := NewFrameStore()
	if err := s.Add(grayImage(4, 3, 1), Identity(), 0); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		img  Image
	}{
		{"width", grayImage(5, 3, 1)},
		{"height", grayImage(4, 2, 1)},
		{"channels", NewImage(4, 3, 3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Add(tc.img, Identity(), 1)
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Fatalf("expected ErrDimensionMismatch, got %v", err)
			}
			if s.Count() != 1 {
				t.Errorf("Count = %d after rejected add", s.Count())
			}
			if s.Current() != 0 {
				t.Errorf("cursor moved to %d", s.Current())
			}
		})
	}
}

func TestFrameStore_RejectsMalformedImage(t *testing.T) {
	s := NewFrameStore()
	bad := Image{Width: 2, Height: 2, Channels: 1, Pix: []byte{1, 2, 3}}
	if err := s.Add(bad, Identity(), 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d", s.Count())
	}
}

func TestFrameStore_RoundTripIsDeepCopy(t *testing.T) {
	s := NewFrameStore()
	img := rampImage(3, 2)
	pose := Translation(1, 2, 3)
	if err := s.Add(img, pose, 12.5); err != nil {
		t.Fatal(err)
	}

	// caller mutation after Add must not leak into the store
	img.Pix[0] = 200

	f, err := s.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Image.Pix[0] != 0 || f.Image.Pix[5] != 5 {
		t.Errorf("stored pixels changed: %v", f.Image.Pix)
	}
	if f.Tracked != pose {
		t.Errorf("tracked = %v, want %v", f.Tracked, pose)
	}
	if f.Timestamp != 12.5 {
		t.Errorf("timestamp = %v", f.Timestamp)
	}

	// mutation of a returned frame must not leak either
	f.Image.Pix[1] = 99
	again, _ := s.Frame(0)
	if again.Image.Pix[1] != 1 {
		t.Errorf("returned frame aliases store: %v", again.Image.Pix)
	}
}

func TestFrameStore_OutOfRange(t *testing.T) {
	s := NewFrameStore()
	if _, err := s.Frame(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Frame on empty store: %v", err)
	}
	_ = s.Add(grayImage(2, 2, 0), Identity(), 0)
	for _, i := range []int{-1, 1, 5} {
		if _, err := s.Frame(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Frame(%d): %v", i, err)
		}
		if err := s.SetCurrent(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("SetCurrent(%d): %v", i, err)
		}
		if _, err := s.Timestamp(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Timestamp(%d): %v", i, err)
		}
	}
	if s.Current() != 0 {
		t.Errorf("cursor = %d", s.Current())
	}
}

func TestFrameStore_ClearResetsFrameSize(t *testing.T) {
	s := NewFrameStore()
	_ = s.Add(grayImage(4, 4, 0), Identity(), 0)
	s.Clear()
	if s.Count() != 0 || s.Current() != -1 {
		t.Fatalf("after Clear count=%d current=%d", s.Count(), s.Current())
	}
	if s.FrameWidth() != 0 || s.FrameHeight() != 0 || s.Channels() != 0 {
		t.Errorf("size not reset: %dx%dx%d", s.FrameWidth(), s.FrameHeight(), s.Channels())
	}
	if err := s.Add(NewImage(8, 2, 3), Identity(), 0); err != nil {
		t.Fatalf("Add with new size after Clear: %v", err)
	}
	if s.FrameWidth() != 8 || s.FrameHeight() != 2 || s.Channels() != 3 {
		t.Errorf("size = %dx%dx%d", s.FrameWidth(), s.FrameHeight(), s.Channels())
	}
}

func TestFrameStore_Timestamps(t *testing.T) {
	s := NewFrameStore()
	for i := 0; i < 4; i++ {
		_ = s.Add(grayImage(1, 1, 0), Identity(), float64(i)*0.5)
	}
	got := s.Timestamps()
	want := []float64{0, 0.5, 1, 1.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Timestamps[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
