package fitsseq

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
)

// frameHeader is the metadata stored in the primary header of each frame.
type frameHeader struct {
	FrameID            int
	Timestamp          float64
	Pose               acquisition.Matrix4
	Calibration        acquisition.Matrix4
	CalibrationApplied bool
	Type               string
	Color              string
}

func (h frameHeader) cards() []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "TIMESTMP", Value: h.Timestamp, Comment: "acquisition time [s]"},
		{Name: "FRAMEID", Value: h.FrameID, Comment: "index in sequence"},
		{Name: "CALAPPLD", Value: h.CalibrationApplied, Comment: "calibration folded into pose"},
		{Name: "ACQTYPE", Value: h.Type},
		{Name: "ACQCOLOR", Value: h.Color},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			cards = append(cards, fitsio.Card{Name: fmt.Sprintf("CAL%d%d", r, c), Value: h.Calibration.At(r, c)})
		}
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			cards = append(cards, fitsio.Card{Name: fmt.Sprintf("POSE%d%d", r, c), Value: h.Pose.At(r, c)})
		}
	}
	return cards
}

// encodeFrame writes img as an 8-bit FITS image. RGB frames get a third axis
// holding one plane per channel.
func encodeFrame(w io.Writer, img acquisition.Image, h frameHeader) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	axes := []int{img.Width, img.Height}
	if img.Channels > 1 {
		axes = append(axes, img.Channels)
	}
	im := fitsio.NewImage(8, axes)
	defer im.Close()
	if err := im.Header().Append(h.cards()...); err != nil {
		return err
	}
	if err := im.Write(toPlanar(img)); err != nil {
		return err
	}
	return f.Write(im)
}

// decodeFrame reads a frame written by encodeFrame.
func decodeFrame(r io.Reader) (acquisition.Image, frameHeader, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return acquisition.Image{}, frameHeader{}, err
	}
	defer f.Close()

	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("primary HDU is not an image")
	}
	hdr := hdu.Header()
	if hdr.Bitpix() != 8 {
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}

	axes := hdr.Axes()
	channels := 1
	switch {
	case len(axes) == 2:
	case len(axes) == 3 && (axes[2] == 1 || axes[2] == 3):
		channels = axes[2]
	default:
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("unsupported axes %v", axes)
	}

	raw := make([]byte, axes[0]*axes[1]*channels)
	if err := hdu.Read(&raw); err != nil {
		return acquisition.Image{}, frameHeader{}, fmt.Errorf("failed to read pixels: %w", err)
	}
	img := fromPlanar(raw, axes[0], axes[1], channels)

	h, err := parseHeader(hdr)
	if err != nil {
		return acquisition.Image{}, frameHeader{}, err
	}
	return img, h, nil
}

func parseHeader(hdr *fitsio.Header) (frameHeader, error) {
	h := frameHeader{Calibration: acquisition.Identity()}

	var err error
	if h.Timestamp, err = cardFloat(hdr, "TIMESTMP"); err != nil {
		return h, err
	}
	if id, err := cardFloat(hdr, "FRAMEID"); err == nil {
		h.FrameID = int(id)
	}
	if c := hdr.Get("CALAPPLD"); c != nil {
		h.CalibrationApplied, _ = c.Value.(bool)
	}
	if c := hdr.Get("ACQTYPE"); c != nil {
		h.Type, _ = c.Value.(string)
	}
	if c := hdr.Get("ACQCOLOR"); c != nil {
		h.Color, _ = c.Value.(string)
	}

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			v, err := cardFloat(hdr, fmt.Sprintf("POSE%d%d", r, c))
			if err != nil {
				return h, err
			}
			h.Pose.Set(r, c, v)
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			if v, err := cardFloat(hdr, fmt.Sprintf("CAL%d%d", r, c)); err == nil {
				h.Calibration.Set(r, c, v)
			}
		}
	}
	return h, nil
}

func cardFloat(hdr *fitsio.Header, name string) (float64, error) {
	c := hdr.Get(name)
	if c == nil {
		return 0, fmt.Errorf("missing header card %s", name)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	}
	return 0, fmt.Errorf("header card %s is %T, want a number", name, c.Value)
}

func toPlanar(img acquisition.Image) []byte {
	if img.Channels == 1 {
		return img.Pix
	}
	n := img.Width * img.Height
	out := make([]byte, len(img.Pix))
	for i := 0; i < n; i++ {
		for c := 0; c < img.Channels; c++ {
			out[c*n+i] = img.Pix[i*img.Channels+c]
		}
	}
	return out
}

func fromPlanar(raw []byte, width, height, channels int) acquisition.Image {
	img := acquisition.NewImage(width, height, channels)
	if channels == 1 {
		copy(img.Pix, raw)
		return img
	}
	n := width * height
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			img.Pix[i*channels+c] = raw[c*n+i]
		}
	}
	return img
}
