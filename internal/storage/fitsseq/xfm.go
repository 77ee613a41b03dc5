package fitsseq

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/fsutil"
)

// CalibrationFile is the name of the calibration written next to an
// exported sequence.
const CalibrationFile = "calibrationTransform.xfm"

const xfmHeader = "MNI Transform File"

// WriteXFM writes m as an MNI linear transform. Only the top three rows are
// stored; the last row is assumed to be 0 0 0 1.
func WriteXFM(w io.Writer, m acquisition.Matrix4) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n\nTransform_Type = Linear;\nLinear_Transform =", xfmHeader)
	for r := 0; r < 3; r++ {
		bw.WriteString("\n")
		for c := 0; c < 4; c++ {
			fmt.Fprintf(bw, " %s", strconv.FormatFloat(m.At(r, c), 'g', -1, 64))
		}
	}
	bw.WriteString(";\n")
	return bw.Flush()
}

// ReadXFM parses an MNI linear transform.
func ReadXFM(r io.Reader) (acquisition.Matrix4, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return acquisition.Matrix4{}, fmt.Errorf("failed to read transform: %w", err)
	}
	text := string(data)
	if !strings.HasPrefix(strings.TrimSpace(text), xfmHeader) {
		return acquisition.Matrix4{}, fmt.Errorf("not an MNI transform file")
	}
	if !strings.Contains(text, "Transform_Type = Linear") {
		return acquisition.Matrix4{}, fmt.Errorf("only linear transforms are supported")
	}

	i := strings.Index(text, "Linear_Transform")
	if i < 0 {
		return acquisition.Matrix4{}, fmt.Errorf("missing Linear_Transform")
	}
	body := text[i+len("Linear_Transform"):]
	body = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), "="))
	if j := strings.Index(body, ";"); j >= 0 {
		body = body[:j]
	}

	fields := strings.Fields(body)
	if len(fields) != 12 {
		return acquisition.Matrix4{}, fmt.Errorf("linear transform has %d values, want 12", len(fields))
	}
	m := acquisition.Identity()
	for k, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return acquisition.Matrix4{}, fmt.Errorf("invalid transform value %q: %w", f, err)
		}
		m.Set(k/4, k%4, v)
	}
	return m, nil
}

// SaveXFM writes m to path.
func SaveXFM(fs fsutil.FileSystem, path string, m acquisition.Matrix4) error {
	w, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteXFM(w, m); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return w.Close()
}

// LoadXFM reads the transform at path.
func LoadXFM(fs fsutil.FileSystem, path string) (acquisition.Matrix4, error) {
	f, err := fs.Open(path)
	if err != nil {
		return acquisition.Matrix4{}, err
	}
	defer f.Close()
	m, err := ReadXFM(f)
	if err != nil {
		return acquisition.Matrix4{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
