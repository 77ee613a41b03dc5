package acquisition

// ExportImage returns a copy of frame i. When masked, pixels outside the
// mask are zeroed in every channel.
func (a *Acquisition) ExportImage(i int, masked bool) (Image, error) {
	f, err := a.store.Frame(i)
	if err != nil {
		return Image{}, err
	}
	img := f.Image
	if masked {
		zeroOutside(img, a.mask)
	}
	return img, nil
}

// zeroOutside clears every channel of the pixels the mask excludes.
func zeroOutside(img Image, mask *Mask) {
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			if mask.Inside(x, y) {
				continue
			}
			off := (y*img.Width + x) * img.Channels
			for c := 0; c < img.Channels; c++ {
				img.Pix[off+c] = 0
			}
		}
	}
}
