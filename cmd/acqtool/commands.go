package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/config"
	"github.com/banshee-data/trackedvideo/internal/framerate"
	"github.com/banshee-data/trackedvideo/internal/fsutil"
	"github.com/banshee-data/trackedvideo/internal/recorder"
	"github.com/banshee-data/trackedvideo/internal/security"
	"github.com/banshee-data/trackedvideo/internal/sensor"
	"github.com/banshee-data/trackedvideo/internal/storage/fitsseq"
	"github.com/banshee-data/trackedvideo/internal/storage/sqlite"
	"github.com/banshee-data/trackedvideo/internal/timeutil"
)

// syntheticCalibration maps synthetic pixels to millimetres.
var syntheticCalibration = acquisition.Scaling(0.1, 0.1, 1)

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *string) {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(out)
	cfgPath := fset.String("config", "", "Configuration file (.json, .yaml or .yml)")
	return fset, cfgPath
}

// exportFlags are shared by the commands that write a FITS sequence.
type exportFlags struct {
	masked     *bool
	calibrated *bool
	gray       *bool
}

func addExportFlags(fset *flag.FlagSet) exportFlags {
	return exportFlags{
		masked:     fset.Bool("masked", false, "Zero pixels outside the fan mask"),
		calibrated: fset.Bool("calibrated", false, "Fold the calibration into exported poses instead of writing an .xfm"),
		gray:       fset.Bool("gray", false, "Convert RGB frames to grayscale"),
	}
}

func (f exportFlags) options(cfg *config.AcquisitionConfig, out io.Writer) fitsseq.Options {
	return fitsseq.Options{
		Masked:                 *f.masked,
		UseCalibratedTransform: *f.calibrated,
		Gray:                   *f.gray,
		Padding:                cfg.GetExportPadding(),
		ProgressRate:           cfg.GetProgressRate(),
		Progress: func(done, total int) {
			fmt.Fprintf(out, "exported %d/%d frames\n", done, total)
		},
	}
}

func logDir(cfg *config.AcquisitionConfig, id string) (string, error) {
	dir, err := security.AcquisitionDir(cfg.GetBaseDir(), id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "log"), nil
}

func exportRoot(cfg *config.AcquisitionConfig) string {
	return filepath.Join(cfg.GetBaseDir(), "export")
}

// tickDriver runs a scheduler either on a simulated clock for a fixed number
// of ticks or in real time for a duration.
type tickDriver struct {
	clock    timeutil.Clock
	mock     *timeutil.MockClock
	sched    *timeutil.Scheduler
	interval time.Duration
}

func newTickDriver(interval time.Duration, realtime bool) *tickDriver {
	d := &tickDriver{interval: interval}
	if realtime {
		d.clock = timeutil.RealClock{}
	} else {
		d.mock = timeutil.NewMockClock(time.Now())
		d.clock = d.mock
	}
	d.sched = timeutil.NewScheduler(d.clock, interval)
	return d
}

// step dispatches one simulated tick.
func (d *tickDriver) step() {
	d.mock.Advance(d.interval)
	d.sched.Tick(d.mock.Now())
}

// run dispatches ticks until n ticks have run, done reports true, or the
// real-time duration elapses.
func (d *tickDriver) run(ctx context.Context, n int, duration time.Duration, done func() bool) error {
	if d.mock == nil {
		ctx, cancel := context.WithTimeout(ctx, duration)
		defer cancel()
		err := d.sched.Run(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	for i := 0; i < n && !done(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.step()
	}
	return nil
}

// session records ticks from a sensor into a new acquisition, logging every
// appended frame and metering the frame rate.
type session struct {
	acq   *acquisition.Acquisition
	rec   *recorder.Recorder
	meter *framerate.Meter
}

func newSession(cfg *config.AcquisitionConfig, fs fsutil.FileSystem, d *tickDriver, s acquisition.SensorSource, id, name, sourceID string) (*session, error) {
	opts := cfg.AcquisitionOptions()
	opts.Name = name
	opts.Sensor = s
	opts.Ticks = d.sched
	acq, err := acquisition.New(opts)
	if err != nil {
		return nil, err
	}
	if id != "" {
		acq.SetID(id)
	}

	dir, err := logDir(cfg, acq.ID())
	if err != nil {
		return nil, err
	}
	rec, err := recorder.NewRecorder(fs, dir, sourceID, cfg.GetLogChunkFrames())
	if err != nil {
		return nil, err
	}
	ss := &session{acq: acq, rec: rec, meter: framerate.NewMeter(d.clock, 0)}

	acq.OnFrameAdded(func(i int) {
		f, err := acq.Frame(i)
		if err == nil {
			err = rec.RecordFrame(i, f)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "frame log: %v\n", err)
		}
	})
	acq.OnFrameAdded(ss.meter.Frame)
	return ss, nil
}

func (s *session) record(ctx context.Context, d *tickDriver, ticks int, duration time.Duration, done func() bool) error {
	s.meter.SetRunning(true)
	if err := s.acq.Start(); err != nil {
		return err
	}
	err := d.run(ctx, ticks, duration, done)
	s.acq.Stop()
	s.meter.SetRunning(false)

	s.rec.SetCalibration(s.acq.Calibration())
	if cerr := s.rec.Close(); err == nil {
		err = cerr
	}
	return err
}

// persist exports the acquisition (unless export is false) and stores its
// catalog row.
func persist(ctx context.Context, cfg *config.AcquisitionConfig, fs fsutil.FileSystem, acq *acquisition.Acquisition,
	frameLog string, export bool, eopts fitsseq.Options) (sqlite.AcquisitionRecord, error) {
	row := sqlite.RecordFromAcquisition(acq)
	row.FrameLogDir = frameLog

	if export && acq.Count() > 0 {
		res, err := fitsseq.Export(ctx, fs, exportRoot(cfg), acq, eopts)
		if err != nil {
			return row, err
		}
		row.ExportDir = res.Dir
	}
	return row, putRecord(ctx, cfg, row)
}

func printSummary(out io.Writer, acq *acquisition.Acquisition, row sqlite.AcquisitionRecord) {
	stats := acq.RecordingStats()
	fmt.Fprintf(out, "acquisition %s", acq.ID())
	if acq.Name() != "" {
		fmt.Fprintf(out, " (%s)", acq.Name())
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "frames: %d (%dx%d %s)\n", acq.Count(), acq.FrameWidth(), acq.FrameHeight(), acq.ColorString())
	fmt.Fprintf(out, "ticks: %d appended=%d not_ready=%d rejected=%d\n", stats.Ticks, stats.Appended, stats.NotReady, stats.Rejected)
	if row.FrameLogDir != "" {
		fmt.Fprintf(out, "frame log: %s\n", row.FrameLogDir)
	}
	if row.ExportDir != "" {
		fmt.Fprintf(out, "export: %s\n", row.ExportDir)
	}
}

func runRecord(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("record", out)
	ticks := fset.Int("ticks", 100, "Number of ticks to record on a simulated clock")
	duration := fset.Duration("duration", 0, "Record in real time for this long instead of --ticks")
	id := fset.String("id", "", "Acquisition id (default: random UUID)")
	name := fset.String("name", "", "Acquisition name")
	width := fset.Int("width", 0, "Frame width (default from config)")
	height := fset.Int("height", 0, "Frame height (default from config)")
	rgb := fset.Bool("rgb", false, "Record RGB frames")
	noExport := fset.Bool("no-export", false, "Skip the FITS export")
	ef := addExportFlags(fset)
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}

	scfg := sensor.DefaultSyntheticConfig()
	scfg.Width, scfg.Height = cfg.GetFrameWidth(), cfg.GetFrameHeight()
	if *width > 0 {
		scfg.Width = *width
	}
	if *height > 0 {
		scfg.Height = *height
	}
	if *rgb {
		scfg.Channels = 3
	}
	scfg.WarmupTicks = cfg.GetWarmupTicks()

	d := newTickDriver(cfg.GetTickInterval(), *duration > 0)
	synth, err := sensor.NewSynthetic(scfg, d.clock)
	if err != nil {
		return err
	}
	cancel := synth.Attach(d.sched)
	defer cancel()

	fs := fsutil.OSFileSystem{}
	s, err := newSession(cfg, fs, d, synth, *id, *name, "synthetic")
	if err != nil {
		return err
	}
	s.acq.SetProbe(acquisition.ProbeInfo{
		Type:            acquisition.TypeBMode,
		CalibrationName: "synthetic",
		Calibration:     syntheticCalibration,
	})

	ctx := context.Background()
	if err := s.record(ctx, d, *ticks, *duration, func() bool { return false }); err != nil {
		return err
	}
	row, err := persist(ctx, cfg, fs, s.acq, s.rec.Path(), !*noExport, ef.options(cfg, out))
	if err != nil {
		return err
	}
	printSummary(out, s.acq, row)
	if m := s.meter.Last(); m.Frames > 0 {
		fmt.Fprintf(out, "frame rate: %.1f fps\n", m.Rate())
	}
	return nil
}

func runReplay(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("replay", out)
	logPath := fset.String("log", "", "Frame log directory (required)")
	id := fset.String("id", "", "Acquisition id (default: random UUID)")
	name := fset.String("name", "", "Acquisition name")
	noExport := fset.Bool("no-export", false, "Skip the FITS export")
	ef := addExportFlags(fset)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return fmt.Errorf("--log is required")
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}

	fs := fsutil.OSFileSystem{}
	rp, err := recorder.NewReplayer(fs, *logPath)
	if err != nil {
		return err
	}
	defer rp.Close()

	d := newTickDriver(cfg.GetTickInterval(), false)
	replay := sensor.NewReplay(rp)
	cancel := replay.Attach(d.sched)
	defer cancel()

	s, err := newSession(cfg, fs, d, replay, *id, *name, "replay:"+rp.Header().SourceID)
	if err != nil {
		return err
	}
	if cal := rp.Header().Calibration; cal != nil {
		s.acq.SetCalibration(*cal)
	}

	ctx := context.Background()
	// One tick per recorded frame, plus one to observe the end of the log.
	if err := s.record(ctx, d, int(rp.TotalFrames())+1, 0, replay.Done); err != nil {
		return err
	}
	row, err := persist(ctx, cfg, fs, s.acq, s.rec.Path(), !*noExport, ef.options(cfg, out))
	if err != nil {
		return err
	}
	printSummary(out, s.acq, row)
	return nil
}

func runImport(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("import", out)
	dir := fset.String("dir", "", "Directory of .fits frames (required)")
	id := fset.String("id", "", "Acquisition id (default: random UUID)")
	name := fset.String("name", "", "Acquisition name")
	resample := fset.Bool("resample", false, "Resample frames whose size differs from the first frame")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}
	opts := cfg.AcquisitionOptions()
	opts.Name = *name
	acq, err := acquisition.New(opts)
	if err != nil {
		return err
	}
	if *id != "" {
		if err := security.ValidateID(*id); err != nil {
			return err
		}
		acq.SetID(*id)
	}

	ctx := context.Background()
	fs := fsutil.OSFileSystem{}
	res, err := fitsseq.ImportDir(ctx, fs, *dir, acq, fitsseq.ImportOptions{Resample: *resample})
	if err != nil {
		return err
	}

	row := sqlite.RecordFromAcquisition(acq)
	row.ExportDir = *dir
	if err := putRecord(ctx, cfg, row); err != nil {
		return err
	}
	printSummary(out, acq, row)
	fmt.Fprintf(out, "resampled: %d\n", res.Resampled)
	if res.CalibrationFile != "" {
		fmt.Fprintf(out, "calibration: %s\n", res.CalibrationFile)
	}
	return nil
}

// openCatalog opens the configured catalog, creating its directory.
func openCatalog(cfg *config.AcquisitionConfig) (*sqlite.Catalog, error) {
	path := cfg.GetCatalogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return sqlite.Open(path)
}

func putRecord(ctx context.Context, cfg *config.AcquisitionConfig, row sqlite.AcquisitionRecord) error {
	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()
	return cat.Put(ctx, row)
}

// loadFrameLog appends every frame of a log to acq and applies the logged
// calibration.
func loadFrameLog(fs fsutil.FileSystem, dir string, acq *acquisition.Acquisition) (recorder.LogHeader, error) {
	rp, err := recorder.NewReplayer(fs, dir)
	if err != nil {
		return recorder.LogHeader{}, err
	}
	defer rp.Close()

	for {
		rec, err := rp.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rp.Header(), err
		}
		f, err := rec.Frame()
		if err != nil {
			return rp.Header(), err
		}
		if err := acq.AddFrame(f.Image, f.Tracked, f.Timestamp); err != nil {
			return rp.Header(), fmt.Errorf("frame %d: %w", rec.FrameID, err)
		}
	}
	if cal := rp.Header().Calibration; cal != nil {
		acq.SetCalibration(*cal)
	}
	return rp.Header(), nil
}

func runExport(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("export", out)
	logPath := fset.String("log", "", "Frame log directory (required)")
	id := fset.String("id", "", "Catalog id whose saved settings are applied before export")
	outDir := fset.String("out", "", "Export root (default <base_dir>/export)")
	ef := addExportFlags(fset)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return fmt.Errorf("--log is required")
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}
	acq, err := acquisition.New(cfg.AcquisitionOptions())
	if err != nil {
		return err
	}

	fs := fsutil.OSFileSystem{}
	if _, err := loadFrameLog(fs, *logPath, acq); err != nil {
		return err
	}

	ctx := context.Background()
	if *id != "" {
		if err := security.ValidateID(*id); err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()
		rec, err := cat.Get(ctx, *id)
		if err != nil {
			return err
		}
		if err := sqlite.Restore(acq, rec); err != nil {
			return err
		}
	}

	root := *outDir
	if root == "" {
		root = exportRoot(cfg)
	}
	res, err := fitsseq.Export(ctx, fs, root, acq, ef.options(cfg, out))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d frames to %s\n", len(res.Files), res.Dir)
	if res.Calibration != "" {
		fmt.Fprintf(out, "calibration: %s\n", res.Calibration)
	}
	return nil
}

func runInfo(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("info", out)
	id := fset.String("id", "", "Acquisition id (default: list all)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	ctx := context.Background()
	if *id == "" {
		recs, err := cat.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Fprintf(out, "%s  %-16s %-13s %5d frames  %dx%d  %s\n",
				r.ID, r.Name, r.Type, r.FrameCount, r.Width, r.Height, r.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}

	r, err := cat.Get(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "id:        %s\n", r.ID)
	fmt.Fprintf(out, "name:      %s\n", r.Name)
	fmt.Fprintf(out, "type:      %s\n", r.Type)
	fmt.Fprintf(out, "depth:     %s\n", r.Depth)
	fmt.Fprintf(out, "frames:    %d (%dx%d %s)\n", r.FrameCount, r.Width, r.Height, r.Color)
	fmt.Fprintf(out, "time:      %.3f - %.3f s\n", r.StartTime, r.EndTime)
	fmt.Fprintf(out, "frame log: %s\n", r.FrameLogDir)
	fmt.Fprintf(out, "export:    %s\n", r.ExportDir)
	settings, err := json.MarshalIndent(r.Settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "settings:\n%s\n", settings)
	return nil
}

// sequenceTimestamps reads timestamps from a frame log or a FITS directory.
func sequenceTimestamps(cfg *config.AcquisitionConfig, fs fsutil.FileSystem, logPath, fitsDir string) ([]float64, error) {
	switch {
	case logPath != "":
		rp, err := recorder.NewReplayer(fs, logPath)
		if err != nil {
			return nil, err
		}
		defer rp.Close()
		return rp.Timestamps(), nil
	case fitsDir != "":
		acq, err := acquisition.New(cfg.AcquisitionOptions())
		if err != nil {
			return nil, err
		}
		if _, err := fitsseq.ImportDir(context.Background(), fs, fitsDir, acq, fitsseq.ImportOptions{Resample: true}); err != nil {
			return nil, err
		}
		return acq.Timestamps(), nil
	}
	return nil, fmt.Errorf("one of --log or --dir is required")
}

func runFramerate(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("framerate", out)
	logPath := fset.String("log", "", "Frame log directory")
	fitsDir := fset.String("dir", "", "Directory of .fits frames")
	plotPath := fset.String("plot", "", "Write an interval plot (.png or .svg)")
	htmlPath := fset.String("html", "", "Write an interactive HTML report")
	asJSON := fset.Bool("json", false, "Print statistics as JSON")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}
	fs := fsutil.OSFileSystem{}
	ts, err := sequenceTimestamps(cfg, fs, *logPath, *fitsDir)
	if err != nil {
		return err
	}
	stats, err := framerate.Analyze(ts)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "frames:   %d over %.3f s\n", stats.Count, stats.Duration)
		fmt.Fprintf(out, "rate:     %.2f fps\n", stats.Rate)
		fmt.Fprintf(out, "interval: mean %.2f ms, std %.2f ms, median %.2f ms, min %.2f ms, max %.2f ms\n",
			stats.MeanInterval*1000, stats.StdInterval*1000, stats.MedianInterval*1000, stats.MinInterval*1000, stats.MaxInterval*1000)
		fmt.Fprintf(out, "dropped:  %d\n", stats.Dropped)
	}

	title := "Frame timing"
	if *plotPath != "" {
		format := strings.TrimPrefix(filepath.Ext(*plotPath), ".")
		if format == "" {
			format = cfg.GetReportPlotFormat()
		}
		if err := writeWith(fs, *plotPath, func(w io.Writer) error {
			return framerate.WritePlot(w, title, ts, format)
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "plot: %s\n", *plotPath)
	}
	if *htmlPath != "" {
		if err := writeWith(fs, *htmlPath, func(w io.Writer) error {
			return framerate.RenderHTML(w, title, ts)
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "report: %s\n", *htmlPath)
	}
	return nil
}

func writeWith(fs fsutil.FileSystem, path string, write func(io.Writer) error) error {
	w, err := fs.Create(path)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func runSlices(args []string, out io.Writer) error {
	fset, _ := newFlagSet("slices", out)
	frames := fset.Int("frames", 0, "Sequence length")
	logPath := fset.String("log", "", "Take the sequence length from a frame log")
	n := fset.Int("n", acquisition.MinStaticSlices, "Number of static slices")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *n < acquisition.MinStaticSlices {
		return fmt.Errorf("%w: at least %d static slices", acquisition.ErrOutOfRange, acquisition.MinStaticSlices)
	}

	count := *frames
	if *logPath != "" {
		rp, err := recorder.NewReplayer(fsutil.OSFileSystem{}, *logPath)
		if err != nil {
			return err
		}
		count = int(rp.TotalFrames())
		rp.Close()
	}

	idx := acquisition.SampleIndices(count, *n)
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(out, strings.Join(parts, " "))
	return nil
}

func runConfig(args []string, out io.Writer) error {
	fset, cfgPath := newFlagSet("config", out)
	format := fset.String("format", "json", "Output format: json or yaml")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadAcquisitionConfig(*cfgPath)
	if err != nil {
		return err
	}
	eff := cfg.Effective()

	switch *format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(eff)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(eff); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", *format)
}
