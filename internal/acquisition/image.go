package acquisition

import (
	"fmt"
	"image"
	"image/color"
)

// Image is an 8-bit raster with 1 (grayscale) or 3 (RGB) interleaved
// channels stored row-major.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) Image {
	return Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Validate checks the channel count and that Pix matches the dimensions.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", im.Width, im.Height)
	}
	if im.Channels != 1 && im.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", im.Channels)
	}
	if want := im.Width * im.Height * im.Channels; len(im.Pix) != want {
		return fmt.Errorf("pixel buffer has %d bytes, want %d", len(im.Pix), want)
	}
	return nil
}

// Clone returns a deep copy.
func (im Image) Clone() Image {
	out := im
	out.Pix = make([]byte, len(im.Pix))
	copy(out.Pix, im.Pix)
	return out
}

// SameShape reports whether o has the same width, height and channel count.
func (im Image) SameShape(o Image) bool {
	return im.Width == o.Width && im.Height == o.Height && im.Channels == o.Channels
}

// Luminance returns the 8-bit intensity at (x, y). RGB pixels are reduced
// with Rec. 601 weights.
func (im Image) Luminance(x, y int) uint8 {
	off := (y*im.Width + x) * im.Channels
	if im.Channels == 1 {
		return im.Pix[off]
	}
	r, g, b := uint32(im.Pix[off]), uint32(im.Pix[off+1]), uint32(im.Pix[off+2])
	return uint8((299*r + 587*g + 114*b + 500) / 1000)
}

// ToImage copies the pixels into a standard library image. Grayscale frames
// become *image.Gray; RGB frames are expanded into an opaque *image.NRGBA.
func (im Image) ToImage() image.Image {
	rect := image.Rect(0, 0, im.Width, im.Height)
	if im.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, im.Pix)
		return g
	}
	out := image.NewNRGBA(rect)
	for i, j := 0, 0; i < len(im.Pix); i, j = i+3, j+4 {
		out.Pix[j] = im.Pix[i]
		out.Pix[j+1] = im.Pix[i+1]
		out.Pix[j+2] = im.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out
}

// ImageFrom converts src into an Image with the requested channel count
// (1 or 3). Alpha is discarded.
func ImageFrom(src image.Image, channels int) Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy(), channels)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.At(x, y)
			if channels == 1 {
				out.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
				i++
				continue
			}
			rgba := color.RGBAModel.Convert(c).(color.RGBA)
			out.Pix[i] = rgba.R
			out.Pix[i+1] = rgba.G
			out.Pix[i+2] = rgba.B
			i += 3
		}
	}
	return out
}

// Frame is one entry of a tracked sequence.
type Frame struct {
	Image     Image
	Tracked   Matrix4
	Timestamp float64
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	return Frame{Image: f.Image.Clone(), Tracked: f.Tracked, Timestamp: f.Timestamp}
}
