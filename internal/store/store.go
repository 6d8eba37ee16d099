// Package store keeps viewer run records on disk: a metadata file and a
// per-frame CSV for every headless check or benchmark.
package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/sceneview/internal/loop"
	"github.com/spf13/afero"
)

var ErrNoRun = errors.New("store: run not found")

type Store struct {
	fs      afero.Fs
	baseDir string
}

type Option func(*Store)

// WithFiles replaces the host filesystem.
func WithFiles(fs afero.Fs) Option { return func(s *Store) { s.fs = fs } }

func New(baseDir string, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs(), baseDir: baseDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Init() error {
	return s.fs.MkdirAll(s.baseDir, 0o755)
}

// RunMetadata describes one run. Frames is the number of rows in the
// run's frames.csv.
type RunMetadata struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Scene     string             `json:"scene"`
	Timestamp time.Time          `json:"timestamp"`
	Startup   time.Duration      `json:"startup_ns"`
	Meshes    int                `json:"meshes"`
	Bodies    int                `json:"bodies"`
	Stepping  bool               `json:"stepping"`
	Frames    int                `json:"frames"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Save writes meta and frames under a new run directory and returns the
// run id.
func (s *Store) Save(meta RunMetadata, frames []loop.Frame) (string, error) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.ID = fmt.Sprintf("%s_%s_%d", meta.Kind, sanitize(meta.Scene), meta.Timestamp.UnixNano())
	meta.Frames = len(frames)

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := s.fs.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	metaFile, err := s.fs.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()
	if err := writeMetadata(metaFile, meta); err != nil {
		return "", err
	}

	csvFile, err := s.fs.Create(filepath.Join(runDir, "frames.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()
	if err := WriteFrames(csvFile, frames); err != nil {
		return "", err
	}

	return meta.ID, nil
}

func writeMetadata(w io.Writer, meta RunMetadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// WriteFrames emits one CSV row per frame: index, stepped, duration in ms.
func WriteFrames(w io.Writer, frames []loop.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"frame", "stepped", "ms"}); err != nil {
		return err
	}
	for _, f := range frames {
		row := []string{
			strconv.Itoa(f.Index),
			strconv.FormatBool(f.Stepped),
			strconv.FormatFloat(float64(f.Duration.Microseconds())/1000, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// List returns every readable run; unreadable entries are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := afero.ReadDir(s.fs, s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoRun, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadFrames reads back the frame rows of a run.
func (s *Store) LoadFrames(runID string) ([]loop.Frame, error) {
	file, err := s.fs.Open(filepath.Join(s.baseDir, runID, "frames.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoRun, runID)
		}
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []loop.Frame{}, nil
	}

	frames := make([]loop.Frame, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 3 {
			return nil, fmt.Errorf("store: malformed frame row %v", rec)
		}
		index, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, err
		}
		stepped, err := strconv.ParseBool(rec[1])
		if err != nil {
			return nil, err
		}
		ms, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, err
		}
		frames = append(frames, loop.Frame{
			Index:    index,
			Stepped:  stepped,
			Duration: time.Duration(ms * float64(time.Millisecond)),
		})
	}
	return frames, nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "scene"
	}
	return string(out)
}
