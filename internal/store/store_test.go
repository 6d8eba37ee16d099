package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/san-kum/sceneview/internal/loop"
	"github.com/spf13/afero"
)

func testFrames() []loop.Frame {
	return []loop.Frame{
		{Index: 0, Stepped: false, Duration: 2 * time.Millisecond},
		{Index: 1, Stepped: true, Duration: 1500 * time.Microsecond},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New("/runs", WithFiles(fs))
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(RunMetadata{
		Kind:    "check",
		Scene:   "models/humanoid.xml",
		Meshes:  20,
		Metrics: map[string]float64{"frame_ms_mean": 1.75},
	}, testFrames())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(runID, "check_humanoid_") {
		t.Errorf("unexpected run id %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Scene != "models/humanoid.xml" || meta.Meshes != 20 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Frames != 2 {
		t.Errorf("expected 2 frames, got %d", meta.Frames)
	}
	if meta.Metrics["frame_ms_mean"] != 1.75 {
		t.Errorf("expected mean 1.75, got %f", meta.Metrics["frame_ms_mean"])
	}

	frames, err := st.LoadFrames(runID)
	if err != nil {
		t.Fatalf("load frames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !frames[1].Stepped || frames[1].Duration != 1500*time.Microsecond {
		t.Errorf("unexpected frame %+v", frames[1])
	}
}

func TestStoreList(t *testing.T) {
	st := New("/runs", WithFiles(afero.NewMemMapFs()))

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs before init, got %d", len(runs))
	}

	if _, err := st.Save(RunMetadata{Kind: "bench", Scene: "a.xml"}, nil); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := st.Save(RunMetadata{Kind: "check", Scene: "b.xml"}, testFrames()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New("/runs", WithFiles(fs))

	runID, err := st.Save(RunMetadata{Kind: "check", Scene: "x.xml"}, testFrames())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{"metadata.json", "frames.csv"} {
		if ok, _ := afero.Exists(fs, filepath.Join("/runs", runID, name)); !ok {
			t.Errorf("%s not created", name)
		}
	}
}

func TestLoadMissingRun(t *testing.T) {
	st := New("/runs", WithFiles(afero.NewMemMapFs()))
	if _, err := st.Load("nope"); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
	if _, err := st.LoadFrames("nope"); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestWriteFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrames(&buf, testFrames()); err != nil {
		t.Fatal(err)
	}
	expected := "frame,stepped,ms\n0,false,2.000\n1,true,1.500\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}
