package acquisition

import (
	"fmt"
	"image"
	"image/color"
)

// Port is one of the two published outputs of the pipeline.
type Port int

const (
	PortUnmasked Port = iota
	PortMasked
)

func (p Port) String() string {
	if p == PortMasked {
		return "masked"
	}
	return "unmasked"
}

// Chain identifies one of the four processing chains.
type Chain int

const (
	ChainColorize Chain = iota
	ChainColorizeMasked
	ChainPad
	ChainPadMasked
	numChains
)

func (c Chain) String() string {
	switch c {
	case ChainColorize:
		return "colorize"
	case ChainColorizeMasked:
		return "colorize+stencil"
	case ChainPad:
		return "pad"
	case ChainPadMasked:
		return "pad+stencil"
	default:
		return fmt.Sprintf("Chain(%d)", int(c))
	}
}

// Stage is a single processing step.
type Stage int

const (
	StageColorize Stage = iota // map intensity through the lookup table
	StagePad                   // widen to 4 channels, alpha 255
	StageStencil               // clear pixels outside the mask
)

var chainStages = [numChains][]Stage{
	ChainColorize:       {StageColorize},
	ChainColorizeMasked: {StageColorize, StageStencil},
	ChainPad:            {StagePad},
	ChainPadMasked:      {StagePad, StageStencil},
}

// portChains[alternate][port] is the chain behind each published port.
var portChains = [2][2]Chain{
	{PortUnmasked: ChainColorize, PortMasked: ChainColorizeMasked},
	{PortUnmasked: ChainPad, PortMasked: ChainPadMasked},
}

// ChainFor returns the chain a surface shows for the given configuration.
func ChainFor(useMask, alternate bool) Chain {
	return portChains[b2i(alternate)][portFor(useMask)]
}

// Stages returns the processing steps of c.
func (c Chain) Stages() []Stage {
	return append([]Stage(nil), chainStages[c]...)
}

func (c Chain) masked() bool { return c == ChainColorizeMasked || c == ChainPadMasked }

func (c Chain) colorized() bool { return c == ChainColorize || c == ChainColorizeMasked }

func portFor(useMask bool) Port {
	if useMask {
		return PortMasked
	}
	return PortUnmasked
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// StencilBackground is the colour of pixels removed by the stencil stage.
var StencilBackground = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0}

// Surface is a display that shows one pipeline output in 3D.
type Surface interface {
	SetInput(out Output)
	SetTransform(m Matrix4)
	SetVisible(visible bool)
	SetOpacity(opacity float64)
}

// Output is a handle on one processing chain. Its image is rendered lazily
// into a buffer owned by the pipeline and reused between reads.
type Output struct {
	p     *Pipeline
	chain Chain
}

// Chain returns the chain behind the handle.
func (o Output) Chain() Chain { return o.chain }

// Image renders the chain for the current frame. The returned image is only
// valid until the next change to the pipeline inputs.
func (o Output) Image() (*image.NRGBA, error) {
	if o.p == nil {
		return nil, fmt.Errorf("%w: output not connected", ErrInvalidState)
	}
	return o.p.render(o.chain)
}

type chainBuffer struct {
	img      *image.NRGBA
	valid    bool
	inputRev uint64
	maskRev  uint64
	lutIndex int
}

type attachedSurface struct {
	id int
	s  Surface
}

// Pipeline routes the current frame through the chain selected by the mask
// and modality flags and keeps attached surfaces connected to it.
type Pipeline struct {
	frame func() *Frame
	mask  *Mask
	lut   *LookupTable

	useMask   bool
	alternate bool
	ports     [2]Chain

	buffers  [numChains]chainBuffer
	inputRev uint64

	surfaces  []attachedSurface
	nextID    int
	transform Matrix4
	visible   bool
	opacity   float64
}

// NewPipeline creates a pipeline reading the current frame from frame, which
// returns nil when there is none.
func NewPipeline(frame func() *Frame, mask *Mask, lutIndex int) (*Pipeline, error) {
	lut, err := NewLookupTable(lutIndex)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		frame:     frame,
		mask:      mask,
		lut:       lut,
		useMask:   true,
		transform: Identity(),
		visible:   true,
		opacity:   1,
	}
	p.RewireOutputs()
	return p, nil
}

// SetUseMask selects masked or unmasked output for attached surfaces.
func (p *Pipeline) SetUseMask(on bool) {
	p.useMask = on
	p.RewireOutputs()
}

// UseMask reports whether surfaces show the masked output.
func (p *Pipeline) UseMask() bool { return p.useMask }

// SetAlternateModality switches between LUT colouring and 4-channel padding.
func (p *Pipeline) SetAlternateModality(on bool) {
	p.alternate = on
	p.RewireOutputs()
}

// AlternateModality reports whether the padding chains are active.
func (p *Pipeline) AlternateModality() bool { return p.alternate }

// RewireOutputs reconnects both ports and every attached surface to the
// chains selected by the current flags. Calling it repeatedly without a
// flag change leaves every connection as it was.
func (p *Pipeline) RewireOutputs() {
	alt := b2i(p.alternate)
	p.ports[PortUnmasked] = portChains[alt][PortUnmasked]
	p.ports[PortMasked] = portChains[alt][PortMasked]
	active := p.Active()
	for _, a := range p.surfaces {
		a.s.SetInput(active)
	}
}

// Port returns the output currently published on port.
func (p *Pipeline) Port(port Port) Output {
	return Output{p: p, chain: p.ports[port]}
}

// Active returns the output attached surfaces are connected to.
func (p *Pipeline) Active() Output {
	return p.Port(portFor(p.useMask))
}

// SetLUTIndex rebuilds the lookup table from template index.
func (p *Pipeline) SetLUTIndex(index int) error {
	lut, err := NewLookupTable(index)
	if err != nil {
		return err
	}
	p.lut = lut
	return nil
}

// LUTIndex returns the lookup table template index.
func (p *Pipeline) LUTIndex() int { return p.lut.Index() }

// Invalidate marks the current frame as changed.
func (p *Pipeline) Invalidate() { p.inputRev++ }

// Attach connects s to the active output and pushes the current transform,
// visibility and opacity. The returned id is used with Detach.
func (p *Pipeline) Attach(s Surface) int {
	p.nextID++
	p.surfaces = append(p.surfaces, attachedSurface{id: p.nextID, s: s})
	s.SetInput(p.Active())
	s.SetTransform(p.transform)
	s.SetVisible(p.visible)
	s.SetOpacity(p.opacity)
	return p.nextID
}

// Detach disconnects a surface. Unknown ids are ignored.
func (p *Pipeline) Detach(id int) {
	for i, a := range p.surfaces {
		if a.id == id {
			p.surfaces = append(p.surfaces[:i], p.surfaces[i+1:]...)
			return
		}
	}
}

// Surfaces returns the number of attached surfaces.
func (p *Pipeline) Surfaces() int { return len(p.surfaces) }

// SetTransform pushes the composed pose of the current frame to surfaces.
func (p *Pipeline) SetTransform(m Matrix4) {
	p.transform = m
	for _, a := range p.surfaces {
		a.s.SetTransform(m)
	}
}

// SetVisible shows or hides every attached surface.
func (p *Pipeline) SetVisible(v bool) {
	p.visible = v
	for _, a := range p.surfaces {
		a.s.SetVisible(v)
	}
}

// SetOpacity clamps o to [0,1] and pushes it to surfaces.
func (p *Pipeline) SetOpacity(o float64) {
	p.opacity = clamp01(o)
	for _, a := range p.surfaces {
		a.s.SetOpacity(p.opacity)
	}
}

// Opacity returns the current slice opacity.
func (p *Pipeline) Opacity() float64 { return p.opacity }

func (p *Pipeline) render(c Chain) (*image.NRGBA, error) {
	f := p.frame()
	if f == nil {
		return nil, fmt.Errorf("%w: no current frame", ErrOutOfRange)
	}
	buf := &p.buffers[c]
	if buf.valid && buf.inputRev == p.inputRev &&
		(!c.masked() || buf.maskRev == p.mask.Revision()) &&
		(!c.colorized() || buf.lutIndex == p.lut.Index()) &&
		buf.img.Rect.Dx() == f.Image.Width && buf.img.Rect.Dy() == f.Image.Height {
		return buf.img, nil
	}
	if buf.img == nil || buf.img.Rect.Dx() != f.Image.Width || buf.img.Rect.Dy() != f.Image.Height {
		buf.img = image.NewNRGBA(image.Rect(0, 0, f.Image.Width, f.Image.Height))
	}
	RenderChain(buf.img, f.Image, c, p.lut, p.mask)
	buf.valid = true
	buf.inputRev = p.inputRev
	buf.maskRev = p.mask.Revision()
	buf.lutIndex = p.lut.Index()
	return buf.img, nil
}

// RenderChain runs the stages of c over src into dst, which must have the
// same size as src.
func RenderChain(dst *image.NRGBA, src Image, c Chain, lut *LookupTable, mask *Mask) {
	for _, st := range chainStages[c] {
		switch st {
		case StageColorize:
			colorize(dst, src, lut)
		case StagePad:
			pad(dst, src)
		case StageStencil:
			stencil(dst, mask)
		}
	}
}

func colorize(dst *image.NRGBA, src Image, lut *LookupTable) {
	for y := 0; y < src.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			c := lut.Map(src.Luminance(x, y))
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, 0xff
		}
	}
}

func pad(dst *image.NRGBA, src Image) {
	for y := 0; y < src.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			off := (y*src.Width + x) * src.Channels
			if src.Channels == 1 {
				v := src.Pix[off]
				row[x*4], row[x*4+1], row[x*4+2] = v, v, v
			} else {
				row[x*4], row[x*4+1], row[x*4+2] = src.Pix[off], src.Pix[off+1], src.Pix[off+2]
			}
			row[x*4+3] = 0xff
		}
	}
}

func stencil(dst *image.NRGBA, mask *Mask) {
	b := dst.Rect
	for y := 0; y < b.Dy(); y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if mask.Inside(x, y) {
				continue
			}
			bg := StencilBackground
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = bg.R, bg.G, bg.B, bg.A
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
