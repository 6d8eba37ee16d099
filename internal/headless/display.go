// Package headless provides a window-less display: frames are counted and
// summarized instead of drawn.
package headless

import (
	"context"
	"errors"
	"sync"

	"github.com/san-kum/sceneview/internal/loop"
	"github.com/san-kum/sceneview/internal/scene"
)

var ErrClosed = errors.New("headless: display closed")

// Frame summarizes one rendered frame.
type Frame struct {
	Width, Height int
	Meshes        int
	Aspect        float32
	CameraPos     [3]float32
}

type Display struct {
	mu       sync.Mutex
	sched    loop.Scheduler
	width    int
	height   int
	frames   []Frame
	keep     int
	onResize []func(w, h int)
	closed   bool
}

type Option func(*Display)

// WithScheduler replaces the default slot count.
func WithScheduler(s loop.Scheduler) Option { return func(d *Display) { d.sched = s } }

// WithHistory bounds how many frame summaries are kept; 0 keeps all.
func WithHistory(n int) Option { return func(d *Display) { d.keep = n } }

// New returns a display that yields frames slots and then stops.
func New(frames int, opts ...Option) *Display {
	d := &Display{sched: loop.NewCounted(frames)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Display) Render(s *scene.Scene, cam *scene.PerspectiveCamera) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	f := Frame{
		Width:     d.width,
		Height:    d.height,
		Meshes:    len(s.Meshes()),
		Aspect:    cam.Aspect,
		CameraPos: cam.Position,
	}
	d.frames = append(d.frames, f)
	if d.keep > 0 && len(d.frames) > d.keep {
		d.frames = d.frames[len(d.frames)-d.keep:]
	}
	return nil
}

func (d *Display) SetSize(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = w, h
}

func (d *Display) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *Display) Next(ctx context.Context) bool {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return false
	}
	return d.sched.Next(ctx)
}

func (d *Display) OnResize(fn func(w, h int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResize = append(d.onResize, fn)
}

// Resize simulates the host surface changing size.
func (d *Display) Resize(w, h int) {
	d.mu.Lock()
	handlers := d.onResize
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(w, h)
	}
}

// Frames returns a copy of the kept frame summaries.
func (d *Display) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Display) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
