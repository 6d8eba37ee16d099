// Package loop drives the per-frame step/update/render cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/sceneview/internal/scene"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Running
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrAlreadyRunning is returned by Run while the loop is running.
	ErrAlreadyRunning = errors.New("loop: already running")

	// ErrIncomplete is returned by New when a required collaborator is nil.
	ErrIncomplete = errors.New("loop: missing collaborator")

	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("loop: closed")
)

// FrameError wraps a step or render failure with the frame it happened in.
type FrameError struct {
	Frame   int
	Phase   string
	Wrapped error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("loop: frame %d: %s: %v", e.Frame, e.Phase, e.Wrapped)
}

func (e *FrameError) Unwrap() error { return e.Wrapped }

// Scheduler hands out frame slots. Next blocks until the next slot and
// returns false once no more slots will come.
type Scheduler interface {
	Next(ctx context.Context) bool
}

// Stepper advances the simulation once per frame when stepping is enabled.
type Stepper interface {
	Step(ctx context.Context) error
}

// Updater is the camera-control update run before every render.
type Updater interface {
	Update() bool
}

// Frame describes one completed iteration.
type Frame struct {
	Index    int
	Stepped  bool
	Duration time.Duration
}

type Config struct {
	Scene     *scene.Scene
	Camera    *scene.PerspectiveCamera
	Renderer  scene.Renderer
	Controls  Updater
	Scheduler Scheduler
	// Stepper is optional; without one, enabling stepping has no effect.
	Stepper Stepper
}

type Controller struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	state    State
	err      error
	frames   int
	starts   int
	stepping bool
	stopReq  bool
	closed   bool

	onTransition []func(from, to State)
	onFrame      []func(Frame)
}

func New(cfg Config, log *zap.Logger) (*Controller, error) {
	switch {
	case cfg.Scene == nil:
		return nil, fmt.Errorf("%w: scene", ErrIncomplete)
	case cfg.Camera == nil:
		return nil, fmt.Errorf("%w: camera", ErrIncomplete)
	case cfg.Renderer == nil:
		return nil, fmt.Errorf("%w: renderer", ErrIncomplete)
	case cfg.Controls == nil:
		return nil, fmt.Errorf("%w: controls", ErrIncomplete)
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", ErrIncomplete)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{cfg: cfg, log: log}, nil
}

// OnTransition registers a hook called after every state change.
func (c *Controller) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = append(c.onTransition, fn)
}

// OnFrame registers a hook called after every rendered frame.
func (c *Controller) OnFrame(fn func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = append(c.onFrame, fn)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the failure that moved the loop to Failed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Starts counts transitions into Running.
func (c *Controller) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *Controller) SetStepping(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepping = on
}

func (c *Controller) Stepping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepping && c.cfg.Stepper != nil
}

// Stop ends Run at the next slot boundary. A Stop issued while the loop is
// not running is kept and ends the next Run before its first frame.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReq = true
}

// Close stops the loop for good: a running Run ends at the next slot
// boundary and later calls return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopReq = true
}

// takeStop reports a pending stop request and clears it. Requests made by
// Close are never cleared.
func (c *Controller) takeStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopReq {
		return false
	}
	if !c.closed {
		c.stopReq = false
	}
	return true
}

// setState must be called with c.mu held; the returned hooks run after it
// is released.
func (c *Controller) setState(to State, err error) (State, []func(State, State)) {
	from := c.state
	c.state = to
	if to == Running {
		c.starts++
		c.err = nil
	}
	if err != nil {
		c.err = err
	}
	return from, append([]func(State, State){}, c.onTransition...)
}

func (c *Controller) notify(from, to State, hooks []func(State, State)) {
	c.log.Debug("loop transition", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, fn := range hooks {
		fn(from, to)
	}
}

func (c *Controller) transition(to State, err error) {
	c.mu.Lock()
	from, hooks := c.setState(to, err)
	c.mu.Unlock()
	c.notify(from, to, hooks)
}

// Run drives frames until the scheduler runs out, Stop is called, ctx is
// canceled or a frame fails. It may be called again after it returns.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Running:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	from, hooks := c.setState(Running, nil)
	c.mu.Unlock()
	c.notify(from, Running, hooks)

	for {
		if c.takeStop() {
			c.transition(Stopped, nil)
			return nil
		}
		if !c.cfg.Scheduler.Next(ctx) {
			c.transition(Stopped, nil)
			return ctx.Err()
		}
		if err := c.frame(ctx); err != nil {
			c.log.Error("frame failed", zap.Error(err))
			c.transition(Failed, err)
			return err
		}
	}
}

func (c *Controller) frame(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	index := c.frames
	c.mu.Unlock()

	stepped := false
	if c.Stepping() {
		if err := c.cfg.Stepper.Step(ctx); err != nil {
			return &FrameError{Frame: index, Phase: "step", Wrapped: err}
		}
		stepped = true
	}

	c.cfg.Controls.Update()

	if err := c.cfg.Renderer.Render(c.cfg.Scene, c.cfg.Camera); err != nil {
		return &FrameError{Frame: index, Phase: "render", Wrapped: err}
	}

	c.mu.Lock()
	c.frames++
	hooks := c.onFrame
	c.mu.Unlock()

	f := Frame{Index: index, Stepped: stepped, Duration: time.Since(start)}
	for _, fn := range hooks {
		fn(f)
	}
	return nil
}

// Resize sets the camera aspect to width/height and resizes the output
// surface. Degenerate sizes are ignored.
func (c *Controller) Resize(width, height int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Camera.SetAspect(width, height) {
		return false
	}
	c.cfg.Renderer.SetSize(width, height)
	return true
}
