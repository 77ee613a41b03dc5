package acquisition

import (
	"time"
)

func grayImage(w, h int, v byte) Image {
	img := NewImage(w, h, 1)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func rampImage(w, h int) Image {
	img := NewImage(w, h, 1)
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	return img
}

type fakeSensor struct {
	img   Image
	pose  Matrix4
	ts    float64
	ready bool
}

func (s *fakeSensor) CurrentImage() Image           { return s.img }
func (s *fakeSensor) CurrentTrackedMatrix() Matrix4 { return s.pose }
func (s *fakeSensor) CurrentTimestamp() float64     { return s.ts }
func (s *fakeSensor) IsReady() bool                 { return s.ready }

// manualTicks is a TickSource fired by hand.
type manualTicks struct {
	subs   map[int]func(time.Time)
	names  map[int]string
	nextID int
}

func newManualTicks() *manualTicks {
	return &manualTicks{subs: map[int]func(time.Time){}, names: map[int]string{}}
}

func (m *manualTicks) Subscribe(name string, fn func(time.Time)) func() {
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	m.names[id] = name
	return func() {
		delete(m.subs, id)
		delete(m.names, id)
	}
}

func (m *manualTicks) Fire() {
	now := time.Unix(0, 0)
	for id := 1; id <= m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			fn(now)
		}
	}
}

type recordingSurface struct {
	inputs     []Output
	transforms []Matrix4
	visible    bool
	opacity    float64
}

func (s *recordingSurface) SetInput(out Output)        { s.inputs = append(s.inputs, out) }
func (s *recordingSurface) SetTransform(m Matrix4)     { s.transforms = append(s.transforms, m) }
func (s *recordingSurface) SetVisible(visible bool)    { s.visible = visible }
func (s *recordingSurface) SetOpacity(opacity float64) { s.opacity = opacity }

func (s *recordingSurface) lastInput() Output { return s.inputs[len(s.inputs)-1] }

type recordingSliceSurface struct {
	pushes  [][]StaticView
	visible bool
	opacity float64
}

func (s *recordingSliceSurface) SetSlices(v []StaticView)   { s.pushes = append(s.pushes, v) }
func (s *recordingSliceSurface) SetVisible(visible bool)    { s.visible = visible }
func (s *recordingSliceSurface) SetOpacity(opacity float64) { s.opacity = opacity }

func newTestAcquisition(t interface{ Fatalf(string, ...any) }, opts Options) *Acquisition {
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}
