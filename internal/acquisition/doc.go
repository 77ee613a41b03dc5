// Package acquisition holds a tracked image sequence: an ordered list of 2D
// frames, each paired with the pose of the tracked sensor when it was
// captured, plus the machinery to place those frames in a shared 3D space.
//
// The pieces are:
//
//   - FrameStore: ordered frames with a current-frame cursor.
//   - Composer: World x Tracked x Calibration pose composition.
//   - RecordingController: clock-driven live capture from a SensorSource.
//   - Pipeline: the four processing chains (mask on/off, normal or
//     alternate modality) feeding attached display surfaces.
//   - SliceSampler: evenly spaced static slices across the sequence.
//
// Acquisition ties them together. None of these types take locks; they are
// driven from a single goroutine (see timeutil.Scheduler).
package acquisition
