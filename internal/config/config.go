// Package config loads acquisition settings from JSON or YAML files with an
// environment overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
)

// EnvPrefix marks environment variables that override file values, e.g.
// TRACKEDVIDEO_TICK_INTERVAL=20ms.
const EnvPrefix = "TRACKEDVIDEO_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AcquisitionConfig holds acquisition, storage and CLI defaults. Every field
// is optional; the Get* methods supply defaults for missing ones.
type AcquisitionConfig struct {
	// Frame defaults
	FrameWidth   *int    `json:"frame_width,omitempty" yaml:"frame_width,omitempty"`
	FrameHeight  *int    `json:"frame_height,omitempty" yaml:"frame_height,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // duration string like "33ms"
	WarmupTicks  *int    `json:"warmup_ticks,omitempty" yaml:"warmup_ticks,omitempty"`

	// Display
	SliceLUTIndex  *int     `json:"slice_lut_index,omitempty" yaml:"slice_lut_index,omitempty"`
	StaticLUTIndex *int     `json:"static_lut_index,omitempty" yaml:"static_lut_index,omitempty"`
	StaticSlices   *int     `json:"static_slices,omitempty" yaml:"static_slices,omitempty"`
	UseMask        *bool    `json:"use_mask,omitempty" yaml:"use_mask,omitempty"`
	SliceOpacity   *float64 `json:"slice_opacity,omitempty" yaml:"slice_opacity,omitempty"`
	StaticOpacity  *float64 `json:"static_opacity,omitempty" yaml:"static_opacity,omitempty"`

	// Storage
	BaseDir          *string  `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`
	CatalogPath      *string  `json:"catalog_path,omitempty" yaml:"catalog_path,omitempty"`
	ExportPadding    *int     `json:"export_padding,omitempty" yaml:"export_padding,omitempty"`
	ProgressRate     *float64 `json:"progress_rate,omitempty" yaml:"progress_rate,omitempty"` // progress callbacks per second
	LogChunkFrames   *int     `json:"log_chunk_frames,omitempty" yaml:"log_chunk_frames,omitempty"`
	ReportPlotFormat *string  `json:"report_plot_format,omitempty" yaml:"report_plot_format,omitempty"` // png or svg
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAcquisitionConfig returns a config with every field unset.
func EmptyAcquisitionConfig() *AcquisitionConfig {
	return &AcquisitionConfig{}
}

// DefaultAcquisitionConfig returns a config with every field set to its
// default.
func DefaultAcquisitionConfig() *AcquisitionConfig {
	return EmptyAcquisitionConfig().Effective()
}

// Effective returns a copy with every field set to the value the Get*
// methods resolve, used by `acqtool config` to print a complete document.
func (c *AcquisitionConfig) Effective() *AcquisitionConfig {
	return &AcquisitionConfig{
		FrameWidth:       ptrInt(c.GetFrameWidth()),
		FrameHeight:      ptrInt(c.GetFrameHeight()),
		TickInterval:     ptrString(c.GetTickInterval().String()),
		WarmupTicks:      ptrInt(c.GetWarmupTicks()),
		SliceLUTIndex:    ptrInt(c.GetSliceLUTIndex()),
		StaticLUTIndex:   ptrInt(c.GetStaticLUTIndex()),
		StaticSlices:     ptrInt(c.GetStaticSlices()),
		UseMask:          ptrBool(c.GetUseMask()),
		SliceOpacity:     ptrFloat64(c.GetSliceOpacity()),
		StaticOpacity:    ptrFloat64(c.GetStaticOpacity()),
		BaseDir:          ptrString(c.GetBaseDir()),
		CatalogPath:      ptrString(c.GetCatalogPath()),
		ExportPadding:    ptrInt(c.GetExportPadding()),
		ProgressRate:     ptrFloat64(c.GetProgressRate()),
		LogChunkFrames:   ptrInt(c.GetLogChunkFrames()),
		ReportPlotFormat: ptrString(c.GetReportPlotFormat()),
	}
}

// LoadAcquisitionConfig loads a config file (.json, .yaml or .yml) and
// overlays TRACKEDVIDEO_* environment variables. An empty path loads the
// environment only. Fields missing from both keep their defaults.
func LoadAcquisitionConfig(path string) (*AcquisitionConfig, error) {
	k := koanf.New(".")

	if path != "" {
		cleanPath := filepath.Clean(path)
		var parser koanf.Parser
		switch ext := filepath.Ext(cleanPath); ext {
		case ".json":
			parser = json.Parser()
		case ".yaml", ".yml":
			parser = yaml.Parser()
		default:
			return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
		}

		// Check file size for safety (max 1MB)
		fileInfo, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if fileInfo.Size() > maxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
		}

		if err := k.Load(file.Provider(cleanPath), parser); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := EmptyAcquisitionConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AcquisitionConfig) Validate() error {
	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %s", d)
		}
	}
	if c.WarmupTicks != nil && *c.WarmupTicks < 0 {
		return fmt.Errorf("warmup_ticks must be non-negative, got %d", *c.WarmupTicks)
	}
	nLUT := len(acquisition.LUTNames())
	if c.SliceLUTIndex != nil && (*c.SliceLUTIndex < 0 || *c.SliceLUTIndex >= nLUT) {
		return fmt.Errorf("slice_lut_index must be between 0 and %d, got %d", nLUT-1, *c.SliceLUTIndex)
	}
	if c.StaticLUTIndex != nil && (*c.StaticLUTIndex < 0 || *c.StaticLUTIndex >= nLUT) {
		return fmt.Errorf("static_lut_index must be between 0 and %d, got %d", nLUT-1, *c.StaticLUTIndex)
	}
	if c.StaticSlices != nil && *c.StaticSlices < acquisition.MinStaticSlices {
		return fmt.Errorf("static_slices must be at least %d, got %d", acquisition.MinStaticSlices, *c.StaticSlices)
	}
	if c.SliceOpacity != nil && (*c.SliceOpacity < 0 || *c.SliceOpacity > 1) {
		return fmt.Errorf("slice_opacity must be between 0 and 1, got %f", *c.SliceOpacity)
	}
	if c.StaticOpacity != nil && (*c.StaticOpacity < 0 || *c.StaticOpacity > 1) {
		return fmt.Errorf("static_opacity must be between 0 and 1, got %f", *c.StaticOpacity)
	}
	if c.ExportPadding != nil && (*c.ExportPadding < 1 || *c.ExportPadding > 9) {
		return fmt.Errorf("export_padding must be between 1 and 9, got %d", *c.ExportPadding)
	}
	if c.ProgressRate != nil && *c.ProgressRate <= 0 {
		return fmt.Errorf("progress_rate must be positive, got %f", *c.ProgressRate)
	}
	if c.LogChunkFrames != nil && *c.LogChunkFrames <= 0 {
		return fmt.Errorf("log_chunk_frames must be positive, got %d", *c.LogChunkFrames)
	}
	if c.ReportPlotFormat != nil {
		switch *c.ReportPlotFormat {
		case "png", "svg":
		default:
			return fmt.Errorf("report_plot_format must be png or svg, got %q", *c.ReportPlotFormat)
		}
	}
	return nil
}

// GetFrameWidth returns the frame_width value or the default.
func (c *AcquisitionConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 640 // default
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *AcquisitionConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 480 // default
	}
	return *c.FrameHeight
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *AcquisitionConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetWarmupTicks returns how many ticks a synthetic sensor reports not
// ready after starting.
func (c *AcquisitionConfig) GetWarmupTicks() int {
	if c.WarmupTicks == nil {
		return 3 // default
	}
	return *c.WarmupTicks
}

// GetSliceLUTIndex returns the current slice lookup table (Hot Metal by
// default).
func (c *AcquisitionConfig) GetSliceLUTIndex() int {
	if c.SliceLUTIndex == nil {
		return 1 // default
	}
	return *c.SliceLUTIndex
}

// GetStaticLUTIndex returns the static slice lookup table (Gray by default).
func (c *AcquisitionConfig) GetStaticLUTIndex() int {
	if c.StaticLUTIndex == nil {
		return 0 // default
	}
	return *c.StaticLUTIndex
}

// GetStaticSlices returns the static_slices value or the default.
func (c *AcquisitionConfig) GetStaticSlices() int {
	if c.StaticSlices == nil {
		return 2 // default
	}
	return *c.StaticSlices
}

// GetUseMask returns the use_mask value or the default.
func (c *AcquisitionConfig) GetUseMask() bool {
	if c.UseMask == nil {
		return true // default
	}
	return *c.UseMask
}

// GetSliceOpacity returns the slice_opacity value or the default.
func (c *AcquisitionConfig) GetSliceOpacity() float64 {
	if c.SliceOpacity == nil {
		return 1.0 // default
	}
	return *c.SliceOpacity
}

// GetStaticOpacity returns the static_opacity value or the default.
func (c *AcquisitionConfig) GetStaticOpacity() float64 {
	if c.StaticOpacity == nil {
		return 1.0 // default
	}
	return *c.StaticOpacity
}

// GetBaseDir returns the directory acquisitions are exported under.
func (c *AcquisitionConfig) GetBaseDir() string {
	if c.BaseDir == nil || *c.BaseDir == "" {
		return "acquisitions" // default
	}
	return *c.BaseDir
}

// GetCatalogPath returns the sqlite catalog path.
func (c *AcquisitionConfig) GetCatalogPath() string {
	if c.CatalogPath == nil || *c.CatalogPath == "" {
		return filepath.Join(c.GetBaseDir(), "catalog.db")
	}
	return *c.CatalogPath
}

// GetExportPadding returns the digit count of exported frame numbers.
func (c *AcquisitionConfig) GetExportPadding() int {
	if c.ExportPadding == nil {
		return 5 // default
	}
	return *c.ExportPadding
}

// GetProgressRate returns the maximum export progress callbacks per second.
func (c *AcquisitionConfig) GetProgressRate() float64 {
	if c.ProgressRate == nil {
		return 10 // default
	}
	return *c.ProgressRate
}

// GetLogChunkFrames returns how many frames the frame log stores per chunk.
func (c *AcquisitionConfig) GetLogChunkFrames() int {
	if c.LogChunkFrames == nil {
		return 500 // default
	}
	return *c.LogChunkFrames
}

// GetReportPlotFormat returns the frame interval plot format.
func (c *AcquisitionConfig) GetReportPlotFormat() string {
	if c.ReportPlotFormat == nil || *c.ReportPlotFormat == "" {
		return "png" // default
	}
	return *c.ReportPlotFormat
}

// AcquisitionOptions converts the display and frame settings into options
// for acquisition.New.
func (c *AcquisitionConfig) AcquisitionOptions() acquisition.Options {
	opts := acquisition.DefaultOptions()
	opts.BaseDir = c.GetBaseDir()
	opts.DefaultWidth = c.GetFrameWidth()
	opts.DefaultHeight = c.GetFrameHeight()
	opts.LUTIndex = c.GetSliceLUTIndex()
	opts.StaticLUTIndex = c.GetStaticLUTIndex()
	opts.StaticSlices = c.GetStaticSlices()
	opts.UseMask = c.GetUseMask()
	opts.SliceOpacity = c.GetSliceOpacity()
	opts.StaticOpacity = c.GetStaticOpacity()
	return opts
}
