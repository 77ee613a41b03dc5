package acquisition

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultWidth = 0
	if _, err := New(opts); err == nil {
		t.Error("expected error for zero default width")
	}

	opts = DefaultOptions()
	opts.LUTIndex = 99
	if _, err := New(opts); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("bad LUT index: %v", err)
	}

	opts = DefaultOptions()
	opts.StaticSlices = 1
	if _, err := New(opts); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("bad static slice count: %v", err)
	}
}

func TestAcquisition_Defaults(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, 640, a.FrameWidth())
	assert.Equal(t, 480, a.FrameHeight())
	assert.Equal(t, 640, a.Mask().Width())
	assert.Equal(t, 1, a.LUTIndex())
	assert.Equal(t, 0, a.StaticLUTIndex())
	assert.Equal(t, 2, a.NumberOfStaticSlices())
	assert.True(t, a.UseMask())
	assert.Equal(t, -1, a.CurrentFrame())
	assert.Equal(t, "B-Mode", a.TypeString())
	assert.Equal(t, "Unknown", a.ColorString())
}

func TestAcquisition_FirstFrameSizesMask(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	require.NoError(t, a.AddFrame(NewImage(32, 16, 3), Identity(), 0))
	assert.Equal(t, 32, a.Mask().Width())
	assert.Equal(t, 16, a.Mask().Height())
	assert.Equal(t, "RGB", a.ColorString())
	assert.Equal(t, 0, a.CurrentFrame())
}

func TestAcquisition_SetCurrentFrameUpdatesTransform(t *testing.T) {
	opts := DefaultOptions()
	opts.World = FixedPose(Translation(10, 0, 0))
	a := newTestAcquisition(t, opts)
	s := &recordingSurface{}
	a.Attach(s)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Translation(0, float64(i), 0), float64(i)))
	}
	require.NoError(t, a.SetCurrentFrame(2))

	want := Translation(10, 0, 0).Mul(Translation(0, 2, 0))
	assert.True(t, a.Transform().ApproxEqual(want, 1e-12))
	assert.Equal(t, a.Transform(), s.transforms[len(s.transforms)-1])
	assert.True(t, s.visible, "surface should be visible once frames exist")

	err := a.SetCurrentFrame(3)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Equal(t, 2, a.CurrentFrame())
}

func TestAcquisition_CalibrationDoesNotMutateFrames(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	pose := Translation(1, 2, 3)
	require.NoError(t, a.AddFrame(grayImage(2, 2, 0), pose, 0))

	a.SetCalibration(Scaling(3, 3, 3))
	f, err := a.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, pose, f.Tracked)
	assert.True(t, a.Transform().ApproxEqual(pose.Mul(Scaling(3, 3, 3)), 1e-12))
}

func TestAcquisition_FrameDataKeepsCurrent(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	a.SetCalibration(Translation(0, 0, 1))
	for i := 0; i < 3; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, byte(i)), Translation(float64(i), 0, 0), 0))
	}

	img, m, err := a.FrameData(2)
	require.NoError(t, err)
	assert.Equal(t, byte(2), img.Pix[0])
	assert.True(t, m.ApproxEqual(Translation(2, 0, 1), 1e-12))
	assert.Equal(t, 0, a.CurrentFrame())

	_, _, err = a.FrameData(7)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestAcquisition_FrameMatrixOptions(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	a.SetCalibration(Scaling(2, 2, 2))
	require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Translation(4, 0, 0), 0))

	m, err := a.FrameMatrix(0, MatrixOptions{})
	require.NoError(t, err)
	assert.Equal(t, Translation(4, 0, 0), m)

	m, err = a.FrameMatrix(0, MatrixOptions{Calibrated: true})
	require.NoError(t, err)
	assert.True(t, m.ApproxEqual(Translation(4, 0, 0).Mul(Scaling(2, 2, 2)), 1e-12))

	ref := newTestAcquisition(t, DefaultOptions())
	ref.SetWorld(FixedPose(Translation(1, 0, 0)))
	m, err = a.FrameMatrix(0, MatrixOptions{RelativeTo: ref})
	require.NoError(t, err)
	assert.True(t, m.ApproxEqual(Translation(3, 0, 0), 1e-9), "relative matrix %v", m)
}

func TestAcquisition_ShowHide(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	s := &recordingSurface{}
	ss := &recordingSliceSurface{}
	a.Attach(s)
	a.AttachStatic(ss)

	assert.False(t, s.visible, "empty acquisition should not be visible")

	for i := 0; i < 4; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	assert.True(t, s.visible)
	assert.False(t, ss.visible, "static slices are off by default")

	require.NoError(t, a.SetStaticSlicesEnabled(true))
	assert.True(t, ss.visible)
	require.NotEmpty(t, ss.pushes)
	assert.Len(t, ss.pushes[len(ss.pushes)-1], 2)

	a.Hide()
	assert.False(t, s.visible)
	assert.False(t, ss.visible)
	assert.False(t, a.Visible())

	a.Show()
	assert.True(t, s.visible)
	assert.True(t, ss.visible)
}

func TestAcquisition_StaticSurfaceFollowsMask(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	for i := 0; i < 3; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	require.NoError(t, a.SetStaticSlicesEnabled(true))
	ss := &recordingSliceSurface{}
	a.AttachStatic(ss)

	slices := a.StaticSlices()
	last := ss.pushes[len(ss.pushes)-1]
	assert.Same(t, slices[0].Masked, last[0].Image)

	a.SetUseMask(false)
	last = ss.pushes[len(ss.pushes)-1]
	assert.Same(t, slices[0].Colorized, last[0].Image)

	a.SetStaticOpacity(-1)
	assert.Equal(t, 0.0, ss.opacity)
}

func TestAcquisition_SetProbe(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	require.NoError(t, a.AddFrame(grayImage(4, 4, 0), Identity(), 0))
	a.StaticSlices()

	probeMask := NewMask(4, 4)
	require.NoError(t, probeMask.SetPixels(make([]byte, 16)))
	a.SetProbe(ProbeInfo{
		Type:            TypeDoppler,
		Depth:           "6cm",
		CalibrationName: "probe-6cm",
		Calibration:     Scaling(0.1, 0.1, 0.1),
		Mask:            probeMask,
	})

	assert.Equal(t, TypeDoppler, a.Type())
	assert.Equal(t, "Doppler", a.TypeString())
	assert.Equal(t, "6cm", a.Depth())
	assert.Equal(t, "probe-6cm", a.CalibrationName())
	assert.Equal(t, Scaling(0.1, 0.1, 0.1), a.Calibration())
	assert.False(t, a.Mask().Inside(2, 2))
	assert.Equal(t, 0, a.CurrentFrame())
}

func TestAcquisition_ExportImageMasked(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	require.NoError(t, a.AddFrame(grayImage(2, 1, 9), Identity(), 0))
	require.NoError(t, a.Mask().SetPixels([]byte{255, 0}))

	img, err := a.ExportImage(0, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 0}, img.Pix)

	img, err = a.ExportImage(0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, img.Pix)
}

func TestAcquisition_SettingsRoundTrip(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	for i := 0; i < 5; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	a.SetType(TypePowerDoppler)
	a.SetDepth("8cm")
	a.SetCalibration(Translation(1, 2, 3))
	require.NoError(t, a.SetCurrentFrame(3))
	require.NoError(t, a.SetLUTIndex(2))
	require.NoError(t, a.SetStaticLUTIndex(4))
	require.NoError(t, a.SetNumberOfStaticSlices(3))
	require.NoError(t, a.SetStaticSlicesEnabled(true))
	a.SetSliceOpacity(0.5)
	a.SetStaticOpacity(0.25)
	a.SetUseMask(false)

	saved := a.Settings()

	b := newTestAcquisition(t, DefaultOptions())
	for i := 0; i < 5; i++ {
		require.NoError(t, b.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	require.NoError(t, b.ApplySettings(saved))

	if diff := cmp.Diff(saved, b.Settings()); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestAcquisition_ApplySettingsValidates(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	before := a.Settings()

	bad := before
	bad.AcquisitionType = "M-Mode"
	assert.Error(t, a.ApplySettings(bad))

	bad = before
	bad.SliceLUTIndex = -1
	assert.Error(t, a.ApplySettings(bad))

	bad = before
	bad.NumberOfStaticSlices = 0
	assert.Error(t, a.ApplySettings(bad))

	if diff := cmp.Diff(before, a.Settings()); diff != "" {
		t.Errorf("failed ApplySettings changed state (-want +got):\n%s", diff)
	}
}

func TestAcquisition_OnFrameAdded(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	var got []int
	cancel := a.OnFrameAdded(func(i int) { got = append(got, i) })
	_ = a.AddFrame(grayImage(1, 1, 0), Identity(), 0)
	_ = a.AddFrame(grayImage(2, 2, 0), Identity(), 0) // rejected
	_ = a.AddFrame(grayImage(1, 1, 0), Identity(), 0)
	cancel()
	_ = a.AddFrame(grayImage(1, 1, 0), Identity(), 0)
	assert.Equal(t, []int{0, 1}, got)
}

func TestAcquisition_Clear(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	s := &recordingSurface{}
	a.Attach(s)
	require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), 0))
	require.NoError(t, a.Clear())
	assert.Equal(t, 0, a.Count())
	assert.Equal(t, -1, a.CurrentFrame())
	assert.False(t, s.visible)
	require.NoError(t, a.AddFrame(grayImage(3, 3, 0), Identity(), 0))
}

func TestParseType(t *testing.T) {
	for _, want := range []Type{TypeBMode, TypeDoppler, TypePowerDoppler} {
		got, err := ParseType(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := ParseType("power doppler")
	require.NoError(t, err)
	assert.Equal(t, TypePowerDoppler, got)
	_, err = ParseType("")
	assert.Error(t, err)
}

func TestAcquisition_AppendDoesNotRecomputeStaticSlices(t *testing.T) {
	a := newTestAcquisition(t, DefaultOptions())
	ss := &recordingSliceSurface{}
	a.AttachStatic(ss)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	require.NoError(t, a.SetStaticSlicesEnabled(true))
	recomputes := a.sampler.Recomputes()
	pushes := len(ss.pushes)

	for i := 3; i < 53; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	assert.Equal(t, recomputes, a.sampler.Recomputes(), "appends must not recompute static slices")
	assert.Len(t, ss.pushes, pushes)
	assert.True(t, a.StaticSlicesStale())

	a.StaticSlices()
	assert.Equal(t, recomputes+1, a.sampler.Recomputes())
	assert.False(t, a.StaticSlicesStale())
	require.Len(t, ss.pushes, pushes+1, "a recompute is pushed to surfaces")

	a.StaticSlices()
	assert.Equal(t, recomputes+1, a.sampler.Recomputes())
	assert.Len(t, ss.pushes, pushes+1)
}

func TestAcquisition_FollowsAcquisitionWorld(t *testing.T) {
	ref := newTestAcquisition(t, DefaultOptions())
	a := newTestAcquisition(t, DefaultOptions())
	s := &recordingSurface{}
	a.Attach(s)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.AddFrame(grayImage(2, 2, 0), Identity(), float64(i)))
	}
	require.NoError(t, a.SetStaticSlicesEnabled(true))
	a.SetWorld(ref)
	a.StaticSlices()
	require.False(t, a.StaticSlicesStale())

	ref.SetWorld(FixedPose(Translation(0, 3, 0)))
	require.NotEmpty(t, s.transforms)
	assert.True(t, s.transforms[len(s.transforms)-1].ApproxEqual(Translation(0, 3, 0), 1e-9))
	assert.True(t, a.Transform().ApproxEqual(Translation(0, 3, 0), 1e-9))
	assert.True(t, a.StaticSlicesStale(), "world change invalidates static slices")

	a.SetWorld(nil)
	ref.SetWorld(FixedPose(Translation(9, 0, 0)))
	assert.True(t, a.Transform().ApproxEqual(Identity(), 1e-9))
}
