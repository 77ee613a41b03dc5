package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyAcquisitionConfig_Defaults(t *testing.T) {
	cfg := EmptyAcquisitionConfig()

	if cfg.GetFrameWidth() != 640 || cfg.GetFrameHeight() != 480 {
		t.Errorf("frame size = %dx%d, want 640x480", cfg.GetFrameWidth(), cfg.GetFrameHeight())
	}
	if cfg.GetTickInterval() != 33*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 33ms", cfg.GetTickInterval())
	}
	if cfg.GetSliceLUTIndex() != 1 {
		t.Errorf("GetSliceLUTIndex() = %d, want 1", cfg.GetSliceLUTIndex())
	}
	if cfg.GetStaticLUTIndex() != 0 {
		t.Errorf("GetStaticLUTIndex() = %d, want 0", cfg.GetStaticLUTIndex())
	}
	if cfg.GetStaticSlices() != 2 {
		t.Errorf("GetStaticSlices() = %d, want 2", cfg.GetStaticSlices())
	}
	if !cfg.GetUseMask() {
		t.Error("GetUseMask() = false, want true")
	}
	if cfg.GetExportPadding() != 5 {
		t.Errorf("GetExportPadding() = %d, want 5", cfg.GetExportPadding())
	}
	if cfg.GetCatalogPath() != filepath.Join("acquisitions", "catalog.db") {
		t.Errorf("GetCatalogPath() = %q", cfg.GetCatalogPath())
	}
}

func TestDefaultAcquisitionConfig_AllFieldsSet(t *testing.T) {
	cfg := DefaultAcquisitionConfig()
	if cfg.TickInterval == nil || *cfg.TickInterval != "33ms" {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if cfg.UseMask == nil || !*cfg.UseMask {
		t.Errorf("UseMask = %v", cfg.UseMask)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestEffective_KeepsSetFields(t *testing.T) {
	cfg := EmptyAcquisitionConfig()
	cfg.BaseDir = ptrString("/data")
	cfg.StaticSlices = ptrInt(6)

	eff := cfg.Effective()
	if *eff.StaticSlices != 6 {
		t.Errorf("StaticSlices = %d, want 6", *eff.StaticSlices)
	}
	if *eff.CatalogPath != filepath.Join("/data", "catalog.db") {
		t.Errorf("CatalogPath = %q, want it under the base dir", *eff.CatalogPath)
	}
	if eff.FrameWidth == nil || *eff.FrameWidth != 640 {
		t.Errorf("FrameWidth = %v, want default 640", eff.FrameWidth)
	}
}

func TestLoadAcquisitionConfig_JSON(t *testing.T) {
	path := writeConfig(t, "acq.json", `{
  "frame_width": 320,
  "frame_height": 240,
  "tick_interval": "20ms",
  "use_mask": false,
  "static_slices": 5,
  "slice_opacity": 0.5
}`)

	cfg, err := LoadAcquisitionConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetFrameWidth() != 320 || cfg.GetFrameHeight() != 240 {
		t.Errorf("frame size = %dx%d", cfg.GetFrameWidth(), cfg.GetFrameHeight())
	}
	if cfg.GetTickInterval() != 20*time.Millisecond {
		t.Errorf("tick = %v", cfg.GetTickInterval())
	}
	if cfg.GetUseMask() {
		t.Error("use_mask should be false")
	}
	if cfg.GetStaticSlices() != 5 {
		t.Errorf("static_slices = %d", cfg.GetStaticSlices())
	}
	if cfg.GetSliceOpacity() != 0.5 {
		t.Errorf("slice_opacity = %v", cfg.GetSliceOpacity())
	}
	// omitted fields keep defaults
	if cfg.StaticLUTIndex != nil {
		t.Errorf("StaticLUTIndex should be unset, got %v", *cfg.StaticLUTIndex)
	}
	if cfg.GetStaticLUTIndex() != 0 {
		t.Errorf("static_lut_index = %d", cfg.GetStaticLUTIndex())
	}
}

func TestLoadAcquisitionConfig_YAML(t *testing.T) {
	path := writeConfig(t, "acq.yaml", "base_dir: /data/us\nexport_padding: 6\n")

	cfg, err := LoadAcquisitionConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetBaseDir() != "/data/us" {
		t.Errorf("base_dir = %q", cfg.GetBaseDir())
	}
	if cfg.GetCatalogPath() != filepath.Join("/data/us", "catalog.db") {
		t.Errorf("catalog path = %q", cfg.GetCatalogPath())
	}
	if cfg.GetExportPadding() != 6 {
		t.Errorf("export_padding = %d", cfg.GetExportPadding())
	}
}

func TestLoadAcquisitionConfig_EnvOverlay(t *testing.T) {
	path := writeConfig(t, "acq.json", `{"frame_width": 320, "tick_interval": "20ms"}`)
	t.Setenv("TRACKEDVIDEO_TICK_INTERVAL", "50ms")
	t.Setenv("TRACKEDVIDEO_STATIC_SLICES", "7")

	cfg, err := LoadAcquisitionConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetTickInterval() != 50*time.Millisecond {
		t.Errorf("env should override tick_interval, got %v", cfg.GetTickInterval())
	}
	if cfg.GetStaticSlices() != 7 {
		t.Errorf("static_slices = %d, want 7", cfg.GetStaticSlices())
	}
	if cfg.GetFrameWidth() != 320 {
		t.Errorf("file value lost: frame_width = %d", cfg.GetFrameWidth())
	}
}

func TestLoadAcquisitionConfig_EnvOnly(t *testing.T) {
	t.Setenv("TRACKEDVIDEO_USE_MASK", "false")
	cfg, err := LoadAcquisitionConfig("")
	if err != nil {
		t.Fatalf("LoadAcquisitionConfig(\"\"): %v", err)
	}
	if cfg.GetUseMask() {
		t.Error("use_mask from env not applied")
	}
}

func TestLoadAcquisitionConfig_Errors(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "acq.txt", "{}", "extension"},
		{"bad json", "acq.json", "{", "parse"},
		{"bad duration", "acq.json", `{"tick_interval": "soon"}`, "tick_interval"},
		{"bad lut", "acq.json", `{"slice_lut_index": 42}`, "slice_lut_index"},
		{"too few slices", "acq.json", `{"static_slices": 1}`, "static_slices"},
		{"opacity", "acq.json", `{"static_opacity": 2}`, "static_opacity"},
		{"plot format", "acq.json", `{"report_plot_format": "gif"}`, "report_plot_format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			_, err := LoadAcquisitionConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	if _, err := LoadAcquisitionConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadAcquisitionConfig_TooLarge(t *testing.T) {
	big := `{"base_dir": "` + strings.Repeat("a", maxFileSize) + `"}`
	path := writeConfig(t, "big.json", big)
	if _, err := LoadAcquisitionConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestAcquisitionOptions(t *testing.T) {
	cfg := EmptyAcquisitionConfig()
	cfg.FrameWidth = ptrInt(100)
	cfg.StaticSlices = ptrInt(4)
	cfg.UseMask = ptrBool(false)

	opts := cfg.AcquisitionOptions()
	if opts.DefaultWidth != 100 || opts.DefaultHeight != 480 {
		t.Errorf("size = %dx%d", opts.DefaultWidth, opts.DefaultHeight)
	}
	if opts.StaticSlices != 4 || opts.UseMask {
		t.Errorf("opts = %+v", opts)
	}
	if opts.LUTIndex != 1 {
		t.Errorf("LUTIndex = %d", opts.LUTIndex)
	}
}
