// Package fitsseq stores acquisitions as a directory of numbered FITS images,
// one per frame, with the probe calibration in an MNI transform file.
package fitsseq

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/disintegration/gift"
	"golang.org/x/time/rate"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/fsutil"
	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

// Extension is the file extension of exported frames.
const Extension = ".fits"

// DefaultPadding is the number of digits in frame file names.
const DefaultPadding = 5

var logf = monitoring.Component("Export")

// Source is what Export reads. *acquisition.Acquisition implements it.
type Source interface {
	ID() string
	Count() int
	ExportImage(i int, masked bool) (acquisition.Image, error)
	Timestamp(i int) (float64, error)
	FrameMatrix(i int, opts acquisition.MatrixOptions) (acquisition.Matrix4, error)
	Calibration() acquisition.Matrix4
	TypeString() string
	ColorString() string
}

// Options control an export.
type Options struct {
	// Masked zeroes pixels outside the current mask.
	Masked bool
	// UseCalibratedTransform folds the calibration into each frame pose.
	// Otherwise the calibration is written to CalibrationFile.
	UseCalibratedTransform bool
	// RelativeTo expresses poses relative to another object's world pose.
	RelativeTo acquisition.WorldPoser
	// Gray converts RGB frames to luminance.
	Gray bool
	// Padding is the zero padding of the frame number (DefaultPadding if 0).
	Padding int
	// Progress is called with frames written so far, at most ProgressRate
	// times per second plus once at the end.
	Progress     func(done, total int)
	ProgressRate float64
}

// Result describes a finished export.
type Result struct {
	Dir         string
	Files       []string
	Calibration string
}

// FramePath returns the path of frame i (0-based) of acquisition id under
// dir. File numbers start at 1.
func FramePath(dir, id string, i, padding int) string {
	if padding <= 0 {
		padding = DefaultPadding
	}
	return filepath.Join(dir, id, fmt.Sprintf("%s.%0*d%s", id, padding, i+1, Extension))
}

// Export writes every frame of src to <dir>/<id>/<id>.NNNNN.fits. An existing
// <dir>/<id> is removed first.
func Export(ctx context.Context, fs fsutil.FileSystem, dir string, src Source, opts Options) (Result, error) {
	id := src.ID()
	if id == "" {
		return Result{}, fmt.Errorf("acquisition has no id")
	}
	total := src.Count()
	if total == 0 {
		return Result{}, fmt.Errorf("%w: nothing to export", acquisition.ErrInvalidState)
	}

	outDir := filepath.Join(dir, id)
	if fs.Exists(outDir) {
		logf("removing previous export %s", outDir)
		if err := fs.RemoveAll(outDir); err != nil {
			return Result{}, fmt.Errorf("failed to remove %s: %w", outDir, err)
		}
	}
	if err := fs.MkdirAll(outDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	progressRate := opts.ProgressRate
	if progressRate <= 0 {
		progressRate = 10
	}
	limiter := rate.NewLimiter(rate.Limit(progressRate), 1)

	calibration := src.Calibration()
	res := Result{Dir: outDir, Files: make([]string, 0, total)}
	start := time.Now()

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		img, err := src.ExportImage(i, opts.Masked)
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", i, err)
		}
		if opts.Gray && img.Channels == 3 {
			img = grayscale(img)
		}
		pose, err := src.FrameMatrix(i, acquisition.MatrixOptions{
			Calibrated: opts.UseCalibratedTransform,
			RelativeTo: opts.RelativeTo,
		})
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", i, err)
		}
		ts, err := src.Timestamp(i)
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", i, err)
		}

		h := frameHeader{
			FrameID:            i,
			Timestamp:          ts,
			Pose:               pose,
			Calibration:        calibration,
			CalibrationApplied: opts.UseCalibratedTransform,
			Type:               src.TypeString(),
			Color:              acquisition.ColorString(img.Channels),
		}
		path := FramePath(dir, id, i, opts.Padding)
		if err := writeFrame(fs, path, img, h); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)

		if opts.Progress != nil && (limiter.Allow() || i == total-1) {
			opts.Progress(i+1, total)
		}
	}

	if !opts.UseCalibratedTransform {
		res.Calibration = filepath.Join(outDir, CalibrationFile)
		if err := SaveXFM(fs, res.Calibration, calibration); err != nil {
			return res, err
		}
	}

	logf("exported %d frames to %s in %v", total, outDir, time.Since(start).Round(time.Millisecond))
	return res, nil
}

func writeFrame(fs fsutil.FileSystem, path string, img acquisition.Image, h frameHeader) error {
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encodeFrame(w, img, h); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func grayscale(img acquisition.Image) acquisition.Image {
	src := img.ToImage()
	g := gift.New(gift.Grayscale())
	dst := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return acquisition.ImageFrom(dst, 1)
}
