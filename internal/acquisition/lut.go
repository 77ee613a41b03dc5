package acquisition

import (
	"fmt"
	"image/color"
	"math"
)

type lutPoint struct {
	pos     float64 // position in [0,1]
	r, g, b float64 // colour in [0,1]
}

type lutTemplate struct {
	name   string
	points []lutPoint
}

// Index order is part of saved settings; append new templates at the end.
var lutTemplates = []lutTemplate{
	{"Gray", []lutPoint{{0, 0, 0, 0}, {1, 1, 1, 1}}},
	{"Hot Metal", []lutPoint{{0, 0, 0, 0}, {0.375, 1, 0, 0}, {0.75, 1, 1, 0}, {1, 1, 1, 1}}},
	{"Spectrum", []lutPoint{{0, 1, 0, 0}, {0.25, 1, 1, 0}, {0.5, 0, 1, 0}, {0.75, 0, 1, 1}, {1, 0, 0, 1}}},
	{"Warm", []lutPoint{{0, 0, 0, 0}, {0.5, 0.9, 0.45, 0.1}, {1, 1, 0.95, 0.75}}},
	{"Cool", []lutPoint{{0, 0, 0, 0}, {0.5, 0.1, 0.45, 0.9}, {1, 0.75, 0.95, 1}}},
}

const (
	lutRangeMin = 0
	lutRangeMax = 255
)

// LUTNames returns the names of the available lookup table templates in
// index order.
func LUTNames() []string {
	names := make([]string, len(lutTemplates))
	for i, t := range lutTemplates {
		names[i] = t.name
	}
	return names
}

// LookupTable maps 8-bit intensities to opaque RGBA colours.
type LookupTable struct {
	index int
	table [256]color.RGBA
}

// NewLookupTable builds the template at index over the [0,255] intensity
// range.
func NewLookupTable(index int) (*LookupTable, error) {
	if index < 0 || index >= len(lutTemplates) {
		return nil, fmt.Errorf("%w: lookup table %d (have %d)", ErrOutOfRange, index, len(lutTemplates))
	}
	l := &LookupTable{index: index}
	tpl := lutTemplates[index]
	for v := 0; v < 256; v++ {
		t := (float64(v) - lutRangeMin) / (lutRangeMax - lutRangeMin)
		r, g, b := tpl.at(t)
		l.table[v] = color.RGBA{R: unit8(r), G: unit8(g), B: unit8(b), A: 0xff}
	}
	return l, nil
}

// Index returns the template index.
func (l *LookupTable) Index() int { return l.index }

// Name returns the template name.
func (l *LookupTable) Name() string { return lutTemplates[l.index].name }

// Map returns the colour for intensity v.
func (l *LookupTable) Map(v uint8) color.RGBA { return l.table[v] }

func (t lutTemplate) at(pos float64) (r, g, b float64) {
	pts := t.points
	if pos <= pts[0].pos {
		return pts[0].r, pts[0].g, pts[0].b
	}
	for i := 1; i < len(pts); i++ {
		if pos <= pts[i].pos {
			a, c := pts[i-1], pts[i]
			f := (pos - a.pos) / (c.pos - a.pos)
			return a.r + f*(c.r-a.r), a.g + f*(c.g-a.g), a.b + f*(c.b-a.b)
		}
	}
	last := pts[len(pts)-1]
	return last.r, last.g, last.b
}

func unit8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
