// Package session wires the physics runtime, the scene document and the
// render scene into one viewer and drives its frame loop.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/sceneview/internal/config"
	"github.com/san-kum/sceneview/internal/geometry"
	"github.com/san-kum/sceneview/internal/loop"
	"github.com/san-kum/sceneview/internal/physics"
	"github.com/san-kum/sceneview/internal/scene"
	"github.com/san-kum/sceneview/internal/vfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tracerName = "github.com/san-kum/sceneview/internal/session"

// Stage names one step of the startup pipeline.
type Stage string

const (
	StageModule   Stage = "module"
	StageMount    Stage = "mount"
	StageFetch    Stage = "fetch"
	StageWrite    Stage = "write"
	StageScene    Stage = "scene"
	StageBase     Stage = "base"
	StageGeometry Stage = "geometry"
	StageLoop     Stage = "loop"
)

// Runtime is the physics module surface a session drives.
type Runtime interface {
	FS() *vfs.FS
	LoadScene(ctx context.Context, path string) (*physics.Model, *physics.State, error)
	Step(ctx context.Context, model *physics.Model, state *physics.State) error
	Geoms(ctx context.Context, model *physics.Model, state *physics.State) ([]physics.Geom, error)
	Free(ctx context.Context, model *physics.Model, state *physics.State) error
	Close(ctx context.Context) error
}

type ModuleLoader interface {
	Load(ctx context.Context) (Runtime, error)
}

type LoaderFunc func(ctx context.Context) (Runtime, error)

func (f LoaderFunc) Load(ctx context.Context) (Runtime, error) { return f(ctx) }

// PhysicsLoader adapts a wasm loader to ModuleLoader.
func PhysicsLoader(l *physics.Loader) ModuleLoader {
	return LoaderFunc(func(ctx context.Context) (Runtime, error) {
		m, err := l.Load(ctx)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// Display is an output surface that also paces the frame loop and reports
// size changes.
type Display interface {
	scene.Renderer
	loop.Scheduler
	OnResize(fn func(width, height int))
	Close() error
}

// ControlsBinder is implemented by displays that feed user input into the
// camera controls.
type ControlsBinder interface {
	BindControls(c *scene.OrbitControls)
}

type DisplayFactory func(ctx context.Context, rc config.RenderConfig) (Display, error)

type Deps struct {
	Loader  ModuleLoader
	Fetcher Fetcher
	Display DisplayFactory
	// Geometry defaults to a fresh adapter.
	Geometry *geometry.Adapter
}

// Event is one startup milestone or failure.
type Event struct {
	Stage   Stage
	Message string
	Err     error
	Elapsed time.Duration
}

type Observer func(Event)

type Option func(*Session)

func WithLogger(log *zap.Logger) Option { return func(s *Session) { s.log = log } }

func WithTracer(t trace.Tracer) Option { return func(s *Session) { s.tracer = t } }

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

var sessionIDs atomic.Uint64

type Session struct {
	id        uint64
	cfg       *config.Config
	deps      Deps
	log       *zap.Logger
	tracer    trace.Tracer
	observers []Observer

	mu       sync.Mutex
	started  bool
	disposed bool
	startErr error
	running  sync.WaitGroup

	runtime  Runtime
	model    *physics.Model
	state    *physics.State
	display  Display
	base     *scene.Base
	geometry *geometry.Adapter
	loop     *loop.Controller
}

func New(cfg *config.Config, deps Deps, opts ...Option) *Session {
	s := &Session{
		id:   sessionIDs.Add(1),
		cfg:  cfg,
		deps: deps,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.log = s.log.With(zap.Uint64("session", s.id))
	s.geometry = deps.Geometry
	if s.geometry == nil {
		s.geometry = geometry.New(geometry.WithLogger(s.log))
	}
	return s
}

func (s *Session) emit(e Event) {
	for _, o := range s.observers {
		o(e)
	}
}

// stage runs fn inside a span, logs its milestone on success and converts a
// failure into a StartupError of the given kind.
func (s *Session) stage(ctx context.Context, st Stage, kind error, milestone string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "session."+string(st),
		trace.WithAttributes(attribute.Int64("session.id", int64(s.id))))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		serr := &StartupError{Stage: st, Kind: kind, Wrapped: err}
		s.log.Error("startup failed", zap.String("stage", string(st)), zap.Error(err))
		s.emit(Event{Stage: st, Err: serr, Elapsed: elapsed})
		return serr
	}
	if milestone != "" {
		s.log.Info(milestone, zap.Duration("elapsed", elapsed))
		s.emit(Event{Stage: st, Message: milestone, Elapsed: elapsed})
	}
	return nil
}

// Start runs the startup pipeline: load the physics module, mount its
// filesystem, fetch and hand off the scene document, import it, build the
// render scene and attach the model geometry. Any failure aborts the
// sequence and leaves the session unusable.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, span := s.tracer.Start(ctx, "session.start")
	defer span.End()

	if err := s.startup(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.startErr = err
		s.release(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (s *Session) startup(ctx context.Context) error {
	cfg := s.cfg
	docPath := cfg.DocumentPath()

	err := s.stage(ctx, StageModule, ErrModuleInstantiation, "module loaded", func(ctx context.Context) error {
		rt, err := s.deps.Loader.Load(ctx)
		if err != nil {
			return err
		}
		s.runtime = rt
		return nil
	})
	if err != nil {
		return err
	}

	err = s.stage(ctx, StageMount, ErrModuleInstantiation, "filesystem ready", func(context.Context) error {
		fs := s.runtime.FS()
		if err := fs.Mount(cfg.Physics.Mount); err != nil {
			return err
		}
		s.log.Debug("mounted", zap.Strings("mounts", fs.Mounts()))
		return nil
	})
	if err != nil {
		return err
	}

	var text string
	err = s.stage(ctx, StageFetch, ErrNetworkFetch, "document fetched", func(ctx context.Context) error {
		var err error
		text, err = s.deps.Fetcher.Fetch(ctx, cfg.Asset.Scene)
		return err
	})
	if err != nil {
		return err
	}

	err = s.stage(ctx, StageWrite, ErrModuleInstantiation, "", func(context.Context) error {
		return s.runtime.FS().WriteFile(docPath, text)
	})
	if err != nil {
		return err
	}
	s.log.Debug("document written", zap.String("path", docPath), zap.Int("bytes", len(text)))

	err = s.stage(ctx, StageScene, ErrSceneLoad, "scene loaded", func(ctx context.Context) error {
		model, state, err := s.runtime.LoadScene(ctx, docPath)
		if err != nil {
			return err
		}
		s.model, s.state = model, state
		return nil
	})
	if err != nil {
		return err
	}

	err = s.stage(ctx, StageBase, ErrEnvironment, "", func(ctx context.Context) error {
		d, err := s.deps.Display(ctx, cfg.Render)
		if err != nil {
			return err
		}
		s.display = d
		base, err := scene.BuildBase(cfg.Render, cfg.Camera, cfg.Render.Width, cfg.Render.Height, d)
		if err != nil {
			return err
		}
		s.base = base
		if b, ok := d.(ControlsBinder); ok {
			b.BindControls(base.Controls)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.stage(ctx, StageGeometry, ErrGeometryAttach, "geometry loaded", func(ctx context.Context) error {
		return s.geometry.Attach(ctx, s.runtime, s.model, s.state, s.base.Scene)
	})
	if err != nil {
		return err
	}

	return s.stage(ctx, StageLoop, ErrEnvironment, "", func(context.Context) error {
		return s.buildLoop()
	})
}

func (s *Session) buildLoop() error {
	ctrl, err := loop.New(loop.Config{
		Scene:     s.base.Scene,
		Camera:    s.base.Camera,
		Renderer:  s.display,
		Controls:  s.base.Controls,
		Scheduler: s.display,
		Stepper: &stepper{
			runtime:  s.runtime,
			geometry: s.geometry,
			model:    s.model,
			state:    s.state,
			perFrame: s.cfg.Physics.StepsPerFrame,
		},
	}, s.log.Named("loop"))
	if err != nil {
		return err
	}
	ctrl.SetStepping(s.cfg.Physics.StepEnabled)

	ctrl.OnTransition(func(from, to loop.State) {
		if to == loop.Running {
			s.log.Info("loop started", zap.Bool("stepping", ctrl.Stepping()))
			s.emit(Event{Stage: StageLoop, Message: "loop started"})
		}
	})
	s.display.OnResize(func(w, h int) {
		if ctrl.Resize(w, h) {
			s.log.Debug("resized", zap.Int("width", w), zap.Int("height", h))
		}
	})
	s.loop = ctrl
	return nil
}

// Run drives the frame loop until the display stops it, ctx is canceled or
// a frame fails. It may be called again after it returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return ErrDisposed
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.startErr != nil:
		err := s.startErr
		s.mu.Unlock()
		return err
	}
	ctrl := s.loop
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	err := ctrl.Run(ctx)
	if errors.Is(err, loop.ErrClosed) {
		return ErrDisposed
	}
	return err
}

// Dispose stops the loop, waits for Run to return and releases the model,
// the physics runtime and the display. It must not be called from a loop
// hook.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	ctrl := s.loop
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
	}
	s.running.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.release(ctx)
	s.log.Info("session disposed")
	return err
}

func (s *Session) release(ctx context.Context) error {
	var err error
	s.geometry.Detach()
	if s.runtime != nil {
		if s.model != nil || s.state != nil {
			err = multierr.Append(err, s.runtime.Free(ctx, s.model, s.state))
		}
		err = multierr.Append(err, s.runtime.Close(ctx))
	}
	if s.display != nil {
		err = multierr.Append(err, s.display.Close())
	}
	s.runtime, s.model, s.state, s.display = nil, nil, nil, nil
	return err
}

// Scene is nil until Start succeeds.
func (s *Session) Scene() *scene.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return nil
	}
	return s.base.Scene
}

func (s *Session) Base() *scene.Base {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Session) Loop() *loop.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

func (s *Session) Model() *physics.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// stepper advances the physics state and mirrors it into the scene.
type stepper struct {
	runtime  Runtime
	geometry *geometry.Adapter
	model    *physics.Model
	state    *physics.State
	perFrame int
}

func (st *stepper) Step(ctx context.Context) error {
	n := st.perFrame
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := st.runtime.Step(ctx, st.model, st.state); err != nil {
			return err
		}
	}
	return st.geometry.Sync(ctx, st.runtime, st.model, st.state)
}
