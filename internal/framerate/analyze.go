package framerate

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewFrames is returned when fewer than two timestamps are given.
var ErrTooFewFrames = errors.New("at least two frames are needed")

// DropFactor is the multiple of the median interval above which a gap counts
// as dropped frames.
const DropFactor = 1.5

// Stats summarises the frame intervals of a sequence. Times are in seconds.
type Stats struct {
	Count          int     `json:"count"`
	Duration       float64 `json:"duration"`
	MeanInterval   float64 `json:"mean_interval"`
	StdInterval    float64 `json:"std_interval"`
	MedianInterval float64 `json:"median_interval"`
	MinInterval    float64 `json:"min_interval"`
	MaxInterval    float64 `json:"max_interval"`
	Rate           float64 `json:"rate"`
	Dropped        int     `json:"dropped"`
}

// Intervals returns the differences between consecutive timestamps.
func Intervals(timestamps []float64) []float64 {
	if len(timestamps) < 2 {
		return nil
	}
	out := make([]float64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		out[i-1] = timestamps[i] - timestamps[i-1]
	}
	return out
}

// Analyze computes interval statistics. Dropped estimates the frames missing
// from gaps longer than DropFactor times the median interval.
func Analyze(timestamps []float64) (Stats, error) {
	iv := Intervals(timestamps)
	if len(iv) == 0 {
		return Stats{}, ErrTooFewFrames
	}

	mean, std := stat.MeanStdDev(iv, nil)
	if len(iv) == 1 {
		std = 0
	}
	sorted := append([]float64(nil), iv...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	s := Stats{
		Count:          len(timestamps),
		Duration:       timestamps[len(timestamps)-1] - timestamps[0],
		MeanInterval:   mean,
		StdInterval:    std,
		MedianInterval: median,
		MinInterval:    floats.Min(iv),
		MaxInterval:    floats.Max(iv),
	}
	if mean > 0 {
		s.Rate = 1 / mean
	}
	if median > 0 {
		for _, d := range iv {
			if d > DropFactor*median {
				s.Dropped += int(d/median+0.5) - 1
			}
		}
	}
	return s, nil
}
