package framerate

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotFormats are the image formats WritePlot accepts.
var PlotFormats = []string{"png", "svg"}

// WritePlot draws frame intervals in milliseconds against frame number and
// writes the image in format ("png" or "svg").
func WritePlot(w io.Writer, title string, timestamps []float64, format string) error {
	if format != "png" && format != "svg" {
		return fmt.Errorf("unsupported plot format %q", format)
	}
	iv := Intervals(timestamps)
	if len(iv) == 0 {
		return ErrTooFewFrames
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Interval (ms)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(iv))
	for i, d := range iv {
		pts[i] = plotter.XY{X: float64(i + 1), Y: d * 1000}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create interval line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	if s, err := Analyze(timestamps); err == nil {
		mean, err := plotter.NewLine(plotter.XYs{
			{X: 1, Y: s.MeanInterval * 1000},
			{X: float64(len(iv)), Y: s.MeanInterval * 1000},
		})
		if err == nil {
			mean.Width = vg.Points(1)
			mean.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			mean.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
			p.Add(mean)
			p.Legend.Add(fmt.Sprintf("mean %.1f ms", s.MeanInterval*1000), mean)
		}
	}
	p.Legend.Add("interval", line)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// RenderHTML writes an interactive report with the interval series and an
// interval histogram.
func RenderHTML(w io.Writer, title string, timestamps []float64) error {
	s, err := Analyze(timestamps)
	if err != nil {
		return err
	}
	iv := Intervals(timestamps)

	xs := make([]int, len(iv))
	ys := make([]opts.LineData, len(iv))
	for i, d := range iv {
		xs[i] = i + 1
		ys[i] = opts.LineData{Value: d * 1000}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("frames=%d rate=%.2f fps mean=%.1f ms std=%.1f ms dropped=%d", s.Count, s.Rate, s.MeanInterval*1000, s.StdInterval*1000, s.Dropped),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Interval (ms)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xs).AddSeries("interval", ys)

	labels, counts := histogram(iv, 20)
	bars := make([]opts.BarData, len(counts))
	for i, c := range counts {
		bars[i] = opts.BarData{Value: c}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Interval histogram"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("frames", bars)

	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}

// histogram buckets intervals (seconds) into n equal bins labelled in ms.
func histogram(iv []float64, n int) ([]string, []int) {
	lo, hi := iv[0], iv[0]
	for _, d := range iv {
		lo = min(lo, d)
		hi = max(hi, d)
	}
	if hi == lo {
		return []string{fmt.Sprintf("%.1f", lo*1000)}, []int{len(iv)}
	}
	width := (hi - lo) / float64(n)
	counts := make([]int, n)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.1f", (lo+width*(float64(i)+0.5))*1000)
	}
	for _, d := range iv {
		b := int((d - lo) / width)
		if b >= n {
			b = n - 1
		}
		counts[b]++
	}
	return labels, counts
}
