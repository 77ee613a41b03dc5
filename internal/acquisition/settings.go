package acquisition

import "fmt"

// Settings is the persisted display and calibration state of an
// acquisition. Frames are saved separately.
type Settings struct {
	AcquisitionType      string    `json:"acquisition_type"`
	Depth                string    `json:"depth,omitempty"`
	CalibrationName      string    `json:"calibration_name,omitempty"`
	Calibration          Matrix4   `json:"calibration"`
	CurrentSlice         int       `json:"current_slice"`
	SliceLUTIndex        int       `json:"slice_lut_index"`
	SliceOpacity         float64   `json:"slice_opacity"`
	StaticSlicesEnabled  bool      `json:"static_slices_enabled"`
	NumberOfStaticSlices int       `json:"number_of_static_slices"`
	StaticSlicesOpacity  float64   `json:"static_slices_opacity"`
	StaticSlicesLUTIndex int       `json:"static_slices_lut_index"`
	MaskOn               bool      `json:"mask_on"`
	Fan                  FanParams `json:"fan"`
}

// Settings captures the current state.
func (a *Acquisition) Settings() Settings {
	return Settings{
		AcquisitionType:      a.acqType.String(),
		Depth:                a.depth,
		CalibrationName:      a.calibrationName,
		Calibration:          a.Calibration(),
		CurrentSlice:         a.CurrentFrame(),
		SliceLUTIndex:        a.LUTIndex(),
		SliceOpacity:         a.SliceOpacity(),
		StaticSlicesEnabled:  a.staticEnabled,
		NumberOfStaticSlices: a.NumberOfStaticSlices(),
		StaticSlicesOpacity:  a.staticOpacity,
		StaticSlicesLUTIndex: a.StaticLUTIndex(),
		MaskOn:               a.UseMask(),
		Fan:                  a.mask.Params(),
	}
}

// ApplySettings restores state captured by Settings. The current slice is
// applied only when it addresses an existing frame. Settings are validated
// before anything changes.
func (a *Acquisition) ApplySettings(s Settings) error {
	t, err := ParseType(s.AcquisitionType)
	if err != nil {
		return err
	}
	if _, err := NewLookupTable(s.SliceLUTIndex); err != nil {
		return fmt.Errorf("invalid slice lookup table: %w", err)
	}
	if _, err := NewLookupTable(s.StaticSlicesLUTIndex); err != nil {
		return fmt.Errorf("invalid static slice lookup table: %w", err)
	}
	if s.NumberOfStaticSlices < MinStaticSlices {
		return fmt.Errorf("%w: %d static slices", ErrOutOfRange, s.NumberOfStaticSlices)
	}
	if s.StaticSlicesEnabled && a.rec.IsRecording() {
		return fmt.Errorf("%w: static slices unavailable while recording", ErrInvalidState)
	}

	a.acqType = t
	a.depth = s.Depth
	a.calibrationName = s.CalibrationName
	a.SetCalibration(s.Calibration)
	_ = a.pipeline.SetLUTIndex(s.SliceLUTIndex)
	a.SetSliceOpacity(s.SliceOpacity)
	_ = a.sampler.SetLUTIndex(s.StaticSlicesLUTIndex)
	_ = a.sampler.SetCount(s.NumberOfStaticSlices)
	a.SetStaticOpacity(s.StaticSlicesOpacity)
	a.SetUseMask(s.MaskOn)
	if s.Fan != (FanParams{}) && !a.mask.custom {
		a.mask.SetParams(s.Fan)
	}
	if s.CurrentSlice >= 0 && s.CurrentSlice < a.Count() {
		_ = a.SetCurrentFrame(s.CurrentSlice)
	}
	a.staticEnabled = s.StaticSlicesEnabled
	a.refreshStatic()
	return nil
}
