// Package sqlite is the acquisition catalog: one row per acquisition with its
// frame geometry, storage locations and saved display settings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

// ErrNotFound is returned when no acquisition has the requested id.
var ErrNotFound = errors.New("acquisition not found")

var logf = monitoring.Component("Catalog")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// AcquisitionRecord is one catalog row.
type AcquisitionRecord struct {
	ID          string
	Name        string
	Type        string
	Depth       string
	Color       string
	FrameCount  int
	Width       int
	Height      int
	Channels    int
	StartTime   float64
	EndTime     float64
	ExportDir   string
	FrameLogDir string
	Settings    acquisition.Settings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordFromAcquisition builds a catalog row describing a.
func RecordFromAcquisition(a *acquisition.Acquisition) AcquisitionRecord {
	rec := AcquisitionRecord{
		ID:         a.ID(),
		Name:       a.Name(),
		Type:       a.TypeString(),
		Depth:      a.Depth(),
		Color:      a.ColorString(),
		FrameCount: a.Count(),
		Width:      a.FrameWidth(),
		Height:     a.FrameHeight(),
		Channels:   a.Channels(),
		Settings:   a.Settings(),
	}
	if ts := a.Timestamps(); len(ts) > 0 {
		rec.StartTime = ts[0]
		rec.EndTime = ts[len(ts)-1]
	}
	return rec
}

// Catalog stores AcquisitionRecords in a sqlite database.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the catalog at path and migrates it to the latest
// schema.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	c := &Catalog{db: db, now: time.Now}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	logf("opened %s", path)
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Put inserts or replaces rec. CreatedAt is preserved for existing rows.
func (c *Catalog) Put(ctx context.Context, rec AcquisitionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("acquisition id is required")
	}
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	now := c.now().UnixNano()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO acquisitions (
			acquisition_id, name, acquisition_type, depth, color,
			frame_count, frame_width, frame_height, channels,
			start_time, end_time, export_dir, frame_log_dir, settings_json,
			created_unix_ns, updated_unix_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(acquisition_id) DO UPDATE SET
			name = excluded.name,
			acquisition_type = excluded.acquisition_type,
			depth = excluded.depth,
			color = excluded.color,
			frame_count = excluded.frame_count,
			frame_width = excluded.frame_width,
			frame_height = excluded.frame_height,
			channels = excluded.channels,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			export_dir = excluded.export_dir,
			frame_log_dir = excluded.frame_log_dir,
			settings_json = excluded.settings_json,
			updated_unix_ns = excluded.updated_unix_ns`,
		rec.ID, rec.Name, rec.Type, rec.Depth, rec.Color,
		rec.FrameCount, rec.Width, rec.Height, rec.Channels,
		rec.StartTime, rec.EndTime, rec.ExportDir, rec.FrameLogDir, string(settings),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store acquisition %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
	acquisition_id, name, acquisition_type, depth, color,
	frame_count, frame_width, frame_height, channels,
	start_time, end_time, export_dir, frame_log_dir, settings_json,
	created_unix_ns, updated_unix_ns`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (AcquisitionRecord, error) {
	var (
		rec              AcquisitionRecord
		start, end       sql.NullFloat64
		settings         string
		created, updated int64
	)
	err := s.Scan(
		&rec.ID, &rec.Name, &rec.Type, &rec.Depth, &rec.Color,
		&rec.FrameCount, &rec.Width, &rec.Height, &rec.Channels,
		&start, &end, &rec.ExportDir, &rec.FrameLogDir, &settings,
		&created, &updated,
	)
	if err != nil {
		return rec, err
	}
	rec.StartTime = start.Float64
	rec.EndTime = end.Float64
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
		return rec, fmt.Errorf("failed to parse settings of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Get returns the acquisition with the given id.
func (c *Catalog) Get(ctx context.Context, id string) (AcquisitionRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM acquisitions WHERE acquisition_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AcquisitionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return AcquisitionRecord{}, err
	}
	return rec, nil
}

// List returns all acquisitions, oldest first.
func (c *Catalog) List(ctx context.Context) ([]AcquisitionRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM acquisitions ORDER BY created_unix_ns, acquisition_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}
	defer rows.Close()

	var out []AcquisitionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the acquisition with the given id.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM acquisitions WHERE acquisition_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete acquisition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Restore applies the saved settings of rec to a.
func Restore(a *acquisition.Acquisition, rec AcquisitionRecord) error {
	a.SetID(rec.ID)
	a.SetName(rec.Name)
	a.SetDepth(rec.Depth)
	if err := a.ApplySettings(rec.Settings); err != nil {
		return fmt.Errorf("failed to restore %s: %w", rec.ID, err)
	}
	return nil
}
