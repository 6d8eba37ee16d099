package gui

import (
	"context"
	"errors"
	"sync"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/san-kum/sceneview/internal/config"
	"github.com/san-kum/sceneview/internal/scene"
	"go.uber.org/zap"
)

// ErrNoContext indicates the window or its GL context could not be created.
var ErrNoContext = errors.New("gui: graphics context unavailable")

// HUD colours
var (
	ColText    = rl.NewColor(60, 60, 60, 255)
	ColTextDim = rl.NewColor(120, 120, 120, 255)
	ColWire    = rl.NewColor(30, 30, 30, 60)
)

// Window is a raylib window that renders a scene, paces the frame loop at
// the target FPS and turns mouse input into orbit-control deltas. raylib is
// bound to the thread that opened the window, so every method except
// OnResize must be called from that goroutine.
type Window struct {
	log    *zap.Logger
	title  string
	width  int
	height int

	controls  *scene.OrbitControls
	wireframe bool
	hud       bool
	status    string

	mu       sync.Mutex
	onResize []func(w, h int)
	closed   bool
}

type Option func(*Window)

func WithLogger(log *zap.Logger) Option { return func(w *Window) { w.log = log } }

// WithHUD toggles the FPS counter and key hints.
func WithHUD(on bool) Option { return func(w *Window) { w.hud = on } }

// Open creates the window. Antialiasing and resizing are requested through
// raylib config flags before the context exists.
func Open(rc config.RenderConfig, opts ...Option) (*Window, error) {
	w := &Window{
		log:    zap.NewNop(),
		title:  rc.Title,
		width:  rc.Width,
		height: rc.Height,
		hud:    true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.width <= 0 || w.height <= 0 {
		return nil, scene.ErrViewport
	}

	flags := uint32(rl.FlagWindowResizable)
	if rc.Antialias {
		flags |= rl.FlagMsaa4xHint
	}
	rl.SetConfigFlags(flags)
	rl.InitWindow(int32(w.width), int32(w.height), w.title)
	if !rl.IsWindowReady() {
		return nil, ErrNoContext
	}

	fps := rc.TargetFPS
	if fps <= 0 {
		fps = config.DefaultTargetFPS
	}
	rl.SetTargetFPS(int32(fps))
	rl.SetExitKey(0)

	w.log.Info("window opened",
		zap.Int("width", w.width), zap.Int("height", w.height), zap.Int("fps", fps))
	return w, nil
}

// BindControls routes pointer input to c.
func (w *Window) BindControls(c *scene.OrbitControls) { w.controls = c }

// SetStatus replaces the HUD status line.
func (w *Window) SetStatus(s string) { w.status = s }

func (w *Window) OnResize(fn func(width, height int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResize = append(w.onResize, fn)
}

// Next polls window events, dispatches resizes and input, and reports false
// once the user closes the window. Pacing comes from EndDrawing, which
// sleeps to hold the target FPS.
func (w *Window) Next(ctx context.Context) bool {
	w.mu.Lock()
	closed := w.closed
	handlers := w.onResize
	w.mu.Unlock()

	if closed || ctx.Err() != nil {
		return false
	}
	if rl.WindowShouldClose() || rl.IsKeyPressed(rl.KeyQ) {
		return false
	}

	if rl.IsWindowResized() {
		width, height := rl.GetScreenWidth(), rl.GetScreenHeight()
		w.log.Debug("window resized", zap.Int("width", width), zap.Int("height", height))
		for _, fn := range handlers {
			fn(width, height)
		}
	}

	w.handleInput()
	return true
}

func (w *Window) handleInput() {
	if rl.IsKeyPressed(rl.KeyF) {
		w.wireframe = !w.wireframe
	}
	if rl.IsKeyPressed(rl.KeyH) {
		w.hud = !w.hud
	}
	if w.controls == nil {
		return
	}

	delta := rl.GetMouseDelta()
	switch {
	case rl.IsMouseButtonDown(rl.MouseLeftButton) && !rl.IsKeyDown(rl.KeyLeftShift):
		w.controls.RotateDrag(delta.X, delta.Y, w.height)
	case rl.IsMouseButtonDown(rl.MouseRightButton),
		rl.IsMouseButtonDown(rl.MouseLeftButton) && rl.IsKeyDown(rl.KeyLeftShift):
		w.controls.PanDrag(delta.X, delta.Y, w.height)
	}

	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		w.controls.Wheel(wheel)
	}
}

// SetSize resizes the window unless it already has that size.
func (w *Window) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if w.width == width && w.height == height {
		return
	}
	w.width, w.height = width, height
	if rl.GetScreenWidth() != width || rl.GetScreenHeight() != height {
		rl.SetWindowSize(width, height)
	}
}

func (w *Window) Size() (int, int) { return w.width, w.height }

func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	rl.CloseWindow()
	w.log.Info("window closed")
	return nil
}
