// Package vfs is the in-memory filesystem private to one physics module.
//
// The host writes documents into it by absolute path; the guest sees the same
// tree through an io/fs view mounted at its root.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrAlreadyMounted is returned when a mount point is created twice.
	ErrAlreadyMounted = errors.New("vfs: mount point already exists")

	// ErrNotMounted is returned when a write targets a path outside every mount.
	ErrNotMounted = errors.New("vfs: path is not under a mount point")

	// ErrInvalidPath is returned for relative or root paths.
	ErrInvalidPath = errors.New("vfs: path must be absolute and below the root")
)

type FS struct {
	mu     sync.Mutex
	mem    afero.Fs
	mounts map[string]struct{}
}

func New() *FS {
	return &FS{
		mem:    afero.NewMemMapFs(),
		mounts: make(map[string]struct{}),
	}
}

func clean(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	p = path.Clean(p)
	if p == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return p, nil
}

// Mount creates a memory-backed directory at mountPath.
func (f *FS) Mount(mountPath string) error {
	p, err := clean(mountPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.mounts[p]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, p)
	}
	if err := f.mem.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("vfs: mkdir %s: %w", p, err)
	}
	f.mounts[p] = struct{}{}
	return nil
}

// Mounted reports whether mountPath was created by Mount.
func (f *FS) Mounted(mountPath string) bool {
	p, err := clean(mountPath)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mounts[p]
	return ok
}

// Mounts lists mount points in lexical order.
func (f *FS) Mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.mounts))
	for p := range f.mounts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *FS) mountFor(p string) (string, bool) {
	for m := range f.mounts {
		if strings.HasPrefix(p, m+"/") {
			return m, true
		}
	}
	return "", false
}

// WriteFile copies text verbatim to p. The content is not inspected.
func (f *FS) WriteFile(p string, text string) error {
	p, err := clean(p)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.mountFor(p); !ok {
		return fmt.Errorf("%w: %s", ErrNotMounted, p)
	}
	if err := f.mem.MkdirAll(path.Dir(p), 0755); err != nil {
		return fmt.Errorf("vfs: mkdir %s: %w", path.Dir(p), err)
	}
	if err := afero.WriteFile(f.mem, p, []byte(text), 0644); err != nil {
		return fmt.Errorf("vfs: write %s: %w", p, err)
	}
	return nil
}

func (f *FS) ReadFile(p string) ([]byte, error) {
	p, err := clean(p)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(f.current(), p)
}

func (f *FS) Exists(p string) bool {
	p, err := clean(p)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(f.current(), p)
	return err == nil && ok
}

// IOFS exposes the tree as an io/fs.FS rooted at "/". Names are unrooted,
// as io/fs requires: "working/scene.xml" reads "/working/scene.xml".
// The view follows Reset.
func (f *FS) IOFS() fs.FS {
	return ioView{f: f}
}

type ioView struct{ f *FS }

func (v ioView) Open(name string) (fs.File, error) {
	return afero.NewIOFS(afero.NewBasePathFs(v.f.current(), "/")).Open(name)
}

func (f *FS) current() afero.Fs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem
}

// Reset drops every mount and file.
func (f *FS) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem = afero.NewMemMapFs()
	f.mounts = make(map[string]struct{})
}
