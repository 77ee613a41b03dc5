package fitsseq

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/gift"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/fsutil"
)

// Sink is what Import writes into. *acquisition.Acquisition implements it.
type Sink interface {
	AddFrame(img acquisition.Image, tracked acquisition.Matrix4, timestamp float64) error
	SetCalibration(m acquisition.Matrix4)
}

// ImportOptions control an import.
type ImportOptions struct {
	// Resample scales frames whose size differs from the first frame
	// instead of failing with acquisition.ErrDimensionMismatch.
	Resample bool
}

// ImportResult describes a finished import.
type ImportResult struct {
	Frames      int
	Resampled   int
	Calibration acquisition.Matrix4
	// CalibrationFile is the transform file that was loaded, if any.
	CalibrationFile string
}

// ImportDir imports every .fits file in dir.
func ImportDir(ctx context.Context, fs fsutil.FileSystem, dir string, sink Sink, opts ImportOptions) (ImportResult, error) {
	names, err := fs.ReadDir(dir)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var paths []string
	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), Extension) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	if len(paths) == 0 {
		return ImportResult{}, fmt.Errorf("no %s files in %s", Extension, dir)
	}
	return Import(ctx, fs, paths, sink, opts)
}

// Import appends the frames in paths, sorted by name, to sink. The
// calibration is taken from CalibrationFile in the directory of the first
// file. Without one it falls back to the calibration cards of the first
// header, or identity when that frame already has the calibration folded
// into its pose. The calibration is set on sink before any frame is added,
// so a failure part way through leaves the frames read so far in sink with
// the right calibration; res.Frames counts them.
func Import(ctx context.Context, fs fsutil.FileSystem, paths []string, sink Sink, opts ImportOptions) (ImportResult, error) {
	if len(paths) == 0 {
		return ImportResult{}, fmt.Errorf("no files to import")
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var res ImportResult
	var first acquisition.Image
	for i, path := range sorted {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		img, h, err := readFrame(fs, path)
		if err != nil {
			return res, err
		}
		if i == 0 {
			first = img
			if err := resolveCalibration(fs, path, h, &res); err != nil {
				return res, err
			}
			sink.SetCalibration(res.Calibration)
		} else if !img.SameShape(first) {
			if !opts.Resample {
				return res, fmt.Errorf("%s: %w: %dx%dx%d, sequence is %dx%dx%d", path, acquisition.ErrDimensionMismatch,
					img.Width, img.Height, img.Channels, first.Width, first.Height, first.Channels)
			}
			img = resample(img, first.Width, first.Height, first.Channels)
			res.Resampled++
		}

		if err := sink.AddFrame(img, h.Pose, h.Timestamp); err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		res.Frames++
	}

	logf("imported %d frames from %s (%d resampled)", res.Frames, filepath.Dir(sorted[0]), res.Resampled)
	return res, nil
}

func resolveCalibration(fs fsutil.FileSystem, firstPath string, h frameHeader, res *ImportResult) error {
	xfm := filepath.Join(filepath.Dir(firstPath), CalibrationFile)
	switch {
	case fs.Exists(xfm):
		m, err := LoadXFM(fs, xfm)
		if err != nil {
			return err
		}
		res.Calibration = m
		res.CalibrationFile = xfm
	case h.CalibrationApplied:
		res.Calibration = acquisition.Identity()
	default:
		res.Calibration = h.Calibration
	}
	return nil
}

func readFrame(fs fsutil.FileSystem, path string) (acquisition.Image, frameHeader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	img, h, err := decodeFrame(f)
	if err != nil {
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return img, h, nil
}

func resample(img acquisition.Image, width, height, channels int) acquisition.Image {
	src := img.ToImage()
	g := gift.New(gift.Resize(width, height, gift.LinearResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return acquisition.ImageFrom(dst, channels)
}
