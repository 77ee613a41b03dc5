package acquisition

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Matrix4 is a 4x4 homogeneous transform in row-major order:
//
//	[ m[0]  m[1]  m[2]  m[3]  ]
//	[ m[4]  m[5]  m[6]  m[7]  ]
//	[ m[8]  m[9]  m[10] m[11] ]
//	[ m[12] m[13] m[14] m[15] ]
//
// It is a value type so assigning it copies the matrix.
type Matrix4 [16]float64

// Identity returns the 4x4 identity matrix.
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation by (x, y, z).
func Translation(x, y, z float64) Matrix4 {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// Scaling returns a diagonal scale matrix.
func Scaling(sx, sy, sz float64) Matrix4 {
	m := Identity()
	m[0], m[5], m[10] = sx, sy, sz
	return m
}

// RotationZ returns a rotation of theta radians about the Z axis.
func RotationZ(theta float64) Matrix4 {
	c, s := math.Cos(theta), math.Sin(theta)
	m := Identity()
	m[0], m[1] = c, -s
	m[4], m[5] = s, c
	return m
}

// At returns the element at row r, column c.
func (m Matrix4) At(r, c int) float64 {
	return m[r*4+c]
}

// Set assigns the element at row r, column c.
func (m *Matrix4) Set(r, c int, v float64) {
	m[r*4+c] = v
}

func (m Matrix4) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, m[:])
	return mat.NewDense(4, 4, data)
}

func matrixFromDense(d mat.Matrix) Matrix4 {
	var out Matrix4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = d.At(r, c)
		}
	}
	return out
}

// Mul returns m x o.
func (m Matrix4) Mul(o Matrix4) Matrix4 {
	var d mat.Dense
	d.Mul(m.dense(), o.dense())
	return matrixFromDense(&d)
}

// Concat returns the left-to-right product of ms. With no arguments it
// returns the identity.
func Concat(ms ...Matrix4) Matrix4 {
	out := Identity()
	for _, m := range ms {
		out = out.Mul(m)
	}
	return out
}

// Inverse returns the inverse of m. Singular matrices produce an error.
func (m Matrix4) Inverse() (Matrix4, error) {
	var d mat.Dense
	if err := d.Inverse(m.dense()); err != nil {
		return Matrix4{}, fmt.Errorf("failed to invert matrix: %w", err)
	}
	return matrixFromDense(&d), nil
}

// Apply transforms the point (x, y, z) by m, treating it as homogeneous with
// w=1.
func (m Matrix4) Apply(x, y, z float64) (float64, float64, float64) {
	wx := m[0]*x + m[1]*y + m[2]*z + m[3]
	wy := m[4]*x + m[5]*y + m[6]*z + m[7]
	wz := m[8]*x + m[9]*y + m[10]*z + m[11]
	return wx, wy, wz
}

// ApproxEqual reports whether every element of m is within tol of o.
func (m Matrix4) ApproxEqual(o Matrix4, tol float64) bool {
	for i := range m {
		if math.Abs(m[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// String formats the matrix one row per line.
func (m Matrix4) String() string {
	var b strings.Builder
	for r := 0; r < 4; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%g %g %g %g", m[r*4], m[r*4+1], m[r*4+2], m[r*4+3])
	}
	return b.String()
}
