// Package recorder provides recording and replay of acquired frames.
package recorder

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
	"github.com/banshee-data/trackedvideo/internal/fsutil"
	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

// LogVersion is written to every header.
const LogVersion = "1.0"

// DefaultChunkSize is the number of frames per chunk file.
const DefaultChunkSize = 500

// ErrClosed is returned when recording into a closed log.
var ErrClosed = errors.New("recorder is closed")

var logf = monitoring.Component("Recorder")

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version     string               `json:"version"`
	CreatedNs   int64                `json:"created_ns"`
	SourceID    string               `json:"source_id"`
	TotalFrames uint64               `json:"total_frames"`
	ChunkSize   int                  `json:"chunk_size"`
	StartNs     int64                `json:"start_ns"`
	EndNs       int64                `json:"end_ns"`
	Width       int                  `json:"width"`
	Height      int                  `json:"height"`
	Channels    int                  `json:"channels"`
	Calibration *acquisition.Matrix4 `json:"calibration,omitempty"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	FrameID     uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// FrameRecord is the on-disk form of one frame.
type FrameRecord struct {
	FrameID   uint64      `cbor:"1,keyasint"`
	Timestamp float64     `cbor:"2,keyasint"`
	Width     int         `cbor:"3,keyasint"`
	Height    int         `cbor:"4,keyasint"`
	Channels  int         `cbor:"5,keyasint"`
	Pix       []byte      `cbor:"6,keyasint"`
	Tracked   [16]float64 `cbor:"7,keyasint"`
}

// NewFrameRecord converts an acquired frame.
func NewFrameRecord(id uint64, f acquisition.Frame) FrameRecord {
	return FrameRecord{
		FrameID:   id,
		Timestamp: f.Timestamp,
		Width:     f.Image.Width,
		Height:    f.Image.Height,
		Channels:  f.Image.Channels,
		Pix:       f.Image.Pix,
		Tracked:   f.Tracked,
	}
}

// Frame converts the record back to an acquisition frame.
func (r FrameRecord) Frame() (acquisition.Frame, error) {
	img := acquisition.Image{Width: r.Width, Height: r.Height, Channels: r.Channels, Pix: r.Pix}
	if err := img.Validate(); err != nil {
		return acquisition.Frame{}, fmt.Errorf("frame %d: %w", r.FrameID, err)
	}
	return acquisition.Frame{Image: img, Tracked: acquisition.Matrix4(r.Tracked), Timestamp: r.Timestamp}, nil
}

func timestampNs(seconds float64) int64 {
	return int64(seconds * float64(time.Second))
}

// Recorder writes frames to a chunked log directory.
type Recorder struct {
	fs        fsutil.FileSystem
	basePath  string
	chunkSize int

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    io.WriteCloser
	chunkOffset  uint32

	frameCount uint64
	startNs    int64
	endNs      int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder that writes to basePath. A chunkSize of zero
// or less uses DefaultChunkSize.
func NewRecorder(fs fsutil.FileSystem, basePath, sourceID string, chunkSize int) (*Recorder, error) {
	if basePath == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if err := fs.MkdirAll(filepath.Join(basePath, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Recorder{
		fs:           fs,
		basePath:     basePath,
		chunkSize:    chunkSize,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		header: LogHeader{
			Version:   LogVersion,
			CreatedNs: time.Now().UnixNano(),
			SourceID:  sourceID,
			ChunkSize: chunkSize,
		},
	}
	logf("recording to %s (chunk size %d)", basePath, chunkSize)
	return r, nil
}

// SetCalibration stores a calibration matrix in the header.
func (r *Recorder) SetCalibration(m acquisition.Matrix4) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header.Calibration = &m
}

// Record appends one frame to the log.
func (r *Recorder) Record(rec FrameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	ts := timestampNs(rec.Timestamp)
	if r.frameCount == 0 {
		r.startNs = ts
		r.header.Width = rec.Width
		r.header.Height = rec.Height
		r.header.Channels = rec.Channels
	}
	r.endNs = ts

	chunkIdx := int(r.frameCount / uint64(r.chunkSize))
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		FrameID:     rec.FrameID,
		TimestampNs: ts,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + len(data))
	r.frameCount++

	return nil
}

// RecordFrame records frame index i of an acquisition.
func (r *Recorder) RecordFrame(i int, f acquisition.Frame) error {
	return r.Record(NewFrameRecord(uint64(i), f))
}

func chunkPath(basePath string, chunkIdx int) string {
	return filepath.Join(basePath, "frames", fmt.Sprintf("chunk_%04d.cbor", chunkIdx))
}

// rotateChunk closes the current chunk and opens a new one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	f, err := r.fs.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0

	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	r.header.TotalFrames = r.frameCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := r.fs.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var buf bytes.Buffer
	for _, entry := range r.index {
		if err := binary.Write(&buf, binary.LittleEndian, entry); err != nil {
			return err
		}
	}
	if err := r.fs.WriteFile(filepath.Join(r.basePath, "index.bin"), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	logf("closed %s: %d frames in %d chunks", r.basePath, r.frameCount, r.currentChunk+1)
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// FrameCount returns the number of frames recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}

// Replayer reads frames back from a log directory.
type Replayer struct {
	fs       fsutil.FileSystem
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentFrame uint64

	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReplayer opens a log for replay.
func NewReplayer(fs fsutil.FileSystem, basePath string) (*Replayer, error) {
	r := &Replayer{
		fs:           fs,
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := fs.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexData, err := fs.ReadFile(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	rd := bytes.NewReader(indexData)
	r.index = make([]IndexEntry, 0, r.header.TotalFrames)
	for {
		var entry IndexEntry
		if err := binary.Read(rd, binary.LittleEndian, &entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to parse index: %w", err)
		}
		r.index = append(r.index, entry)
	}
	if uint64(len(r.index)) != r.header.TotalFrames {
		return nil, fmt.Errorf("index has %d entries, header records %d frames", len(r.index), r.header.TotalFrames)
	}

	return r, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader {
	return r.header
}

// TotalFrames returns the total number of frames in the log.
func (r *Replayer) TotalFrames() uint64 {
	return uint64(len(r.index))
}

// Timestamps returns the timestamp of every frame in seconds, read from the
// index without loading any chunk.
func (r *Replayer) Timestamps() []float64 {
	out := make([]float64, len(r.index))
	for i, e := range r.index {
		out[i] = float64(e.TimestampNs) / float64(time.Second)
	}
	return out
}

// CurrentFrame returns the index of the next frame ReadFrame returns.
func (r *Replayer) CurrentFrame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFrame
}

// Seek seeks to a specific frame by index.
func (r *Replayer) Seek(frameIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameIdx >= uint64(len(r.index)) {
		return fmt.Errorf("frame index out of range: %d >= %d", frameIdx, len(r.index))
	}

	r.currentFrame = frameIdx
	return nil
}

// SeekToTimestamp seeks to the first frame at or after the timestamp, or
// to the last frame if the timestamp is beyond the log.
func (r *Replayer) SeekToTimestamp(seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.index) == 0 {
		return fmt.Errorf("log is empty")
	}

	ts := timestampNs(seconds)
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].TimestampNs >= ts
	})
	if i == len(r.index) {
		i--
	}
	r.currentFrame = uint64(i)
	return nil
}

// ReadFrame reads the current frame and advances. It returns io.EOF after
// the last frame.
func (r *Replayer) ReadFrame() (FrameRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFrame >= uint64(len(r.index)) {
		return FrameRecord{}, io.EOF
	}

	entry := r.index[r.currentFrame]

	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return FrameRecord{}, err
		}
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return FrameRecord{}, fmt.Errorf("invalid frame offset")
	}

	frameLen := binary.LittleEndian.Uint32(r.chunkData[offset:])
	offset += 4

	if offset+frameLen > uint32(len(r.chunkData)) {
		return FrameRecord{}, fmt.Errorf("invalid frame length")
	}

	var rec FrameRecord
	if err := cbor.Unmarshal(r.chunkData[offset:offset+frameLen], &rec); err != nil {
		return FrameRecord{}, fmt.Errorf("failed to deserialize frame: %w", err)
	}

	r.currentFrame++
	return rec, nil
}

// loadChunk loads a chunk file into memory.
func (r *Replayer) loadChunk(chunkIdx int) error {
	data, err := r.fs.ReadFile(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}

// Close releases the cached chunk.
func (r *Replayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkData = nil
	r.currentChunk = -1
	return nil
}
