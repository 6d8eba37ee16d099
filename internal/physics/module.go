package physics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/san-kum/sceneview/internal/vfs"
	"github.com/spf13/afero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

var (
	// ErrInstantiate covers compile, link and start failures of the module.
	ErrInstantiate = errors.New("physics: module instantiation failed")

	// ErrMissingExport indicates the module does not implement the guest ABI.
	ErrMissingExport = errors.New("physics: required export missing")

	// ErrSceneLoad indicates the module rejected the scene document.
	ErrSceneLoad = errors.New("physics: scene document rejected")

	// ErrStep indicates the module failed to advance the state.
	ErrStep = errors.New("physics: step failed")

	// ErrGuestMemory indicates an out-of-range guest memory access.
	ErrGuestMemory = errors.New("physics: guest memory access out of range")

	// ErrClosed is returned by calls on a closed module.
	ErrClosed = errors.New("physics: module closed")
)

// SceneError carries the document path and the guest's own diagnostic.
type SceneError struct {
	Path   string
	Reason string
}

func (e *SceneError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", ErrSceneLoad, e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSceneLoad, e.Path, e.Reason)
}

func (e *SceneError) Unwrap() error { return ErrSceneLoad }

const moduleName = "physics"

var requiredExports = []string{
	"malloc", "free",
	"load_model", "make_data",
	"model_ngeom", "model_nbody",
	"geom_write", "step", "sim_time",
	"delete_data", "delete_model",
}

const maxErrorLen = 1024

// Module is an instantiated physics runtime together with its private
// virtual filesystem. Calls are serialized; the guest is single-threaded.
type Module struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	mod     api.Module
	files   *vfs.FS
	fns     map[string]api.Function
	log     *zap.Logger
	models  map[uint32]*Model
	closed  bool
}

// Loader instantiates the physics module from a wasm binary on disk.
type Loader struct {
	path  string
	files afero.Fs
	log   *zap.Logger
}

type LoaderOption func(*Loader)

func WithFiles(fs afero.Fs) LoaderOption       { return func(l *Loader) { l.files = fs } }
func WithLogger(log *zap.Logger) LoaderOption { return func(l *Loader) { l.log = log } }

func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{path: path, files: afero.NewOsFs(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the binary and instantiates it.
func (l *Loader) Load(ctx context.Context) (*Module, error) {
	wasm, err := afero.ReadFile(l.files, l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInstantiate, l.path, err)
	}
	return Instantiate(ctx, wasm, l.log)
}

// Instantiate compiles and starts the module with a fresh virtual
// filesystem mounted at the guest root.
func Instantiate(ctx context.Context, wasm []byte, log *zap.Logger) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}

	r := wazero.NewRuntime(ctx)
	fail := func(stage string, err error) (*Module, error) {
		r.Close(ctx)
		return nil, fmt.Errorf("%w: %s: %v", ErrInstantiate, stage, err)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fail("wasi", err)
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return fail("compile", err)
	}

	files := vfs.New()
	guestLog := log.Named("guest")
	modCfg := wazero.NewModuleConfig().
		WithName(moduleName).
		WithFSConfig(wazero.NewFSConfig().WithFSMount(files.IOFS(), "/")).
		WithStdout(&zapio.Writer{Log: guestLog, Level: zapcore.DebugLevel}).
		WithStderr(&zapio.Writer{Log: guestLog, Level: zapcore.WarnLevel}).
		WithStartFunctions("_initialize")

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fail("instantiate", err)
	}

	m := &Module{
		runtime: r,
		mod:     mod,
		files:   files,
		fns:     make(map[string]api.Function, len(requiredExports)+1),
		log:     log,
		models:  make(map[uint32]*Model),
	}

	if mod.Memory() == nil {
		return fail("exports", fmt.Errorf("%w: memory", ErrMissingExport))
	}
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return fail("exports", fmt.Errorf("%w: %s", ErrMissingExport, name))
		}
		m.fns[name] = fn
	}
	if fn := mod.ExportedFunction("last_error"); fn != nil {
		m.fns["last_error"] = fn
	}

	return m, nil
}

// FS is the module's private filesystem; the guest sees it at "/".
func (m *Module) FS() *vfs.FS { return m.files }

func (m *Module) call(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn, ok := m.fns[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingExport, name)
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("physics: call %s: %w", name, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (m *Module) alloc(ctx context.Context, size uint32) (uint32, error) {
	ret, err := m.call(ctx, "malloc", api.EncodeU32(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(ret)
	if ptr == 0 {
		return 0, fmt.Errorf("%w: malloc(%d) returned null", ErrGuestMemory, size)
	}
	return ptr, nil
}

func (m *Module) release(ctx context.Context, ptr uint32) {
	if _, err := m.call(ctx, "free", api.EncodeU32(ptr)); err != nil {
		m.log.Warn("guest free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// writeString copies s plus a NUL terminator into guest memory.
func (m *Module) writeString(ctx context.Context, s string) (uint32, error) {
	buf := append([]byte(s), 0)
	ptr, err := m.alloc(ctx, uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	if !m.mod.Memory().Write(ptr, buf) {
		m.release(ctx, ptr)
		return 0, fmt.Errorf("%w: write %d bytes at %#x", ErrGuestMemory, len(buf), ptr)
	}
	return ptr, nil
}

func (m *Module) readCString(ptr uint32) string {
	mem := m.mod.Memory()
	if ptr == 0 || ptr >= mem.Size() {
		return ""
	}
	n := mem.Size() - ptr
	if n > maxErrorLen {
		n = maxErrorLen
	}
	raw, ok := mem.Read(ptr, n)
	if !ok {
		return ""
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func (m *Module) lastError(ctx context.Context) string {
	if _, ok := m.fns["last_error"]; !ok {
		return ""
	}
	ret, err := m.call(ctx, "last_error")
	if err != nil {
		return ""
	}
	return m.readCString(api.DecodeU32(ret))
}

// LoadScene parses the document at path (a path inside FS) and returns the
// model and a fresh simulation state. On failure no handle survives.
func (m *Module) LoadScene(ctx context.Context, path string) (*Model, *State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if !m.files.Exists(path) {
		return nil, nil, &SceneError{Path: path, Reason: "no such file in the module filesystem"}
	}

	pathPtr, err := m.writeString(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer m.release(ctx, pathPtr)

	ret, err := m.call(ctx, "load_model", api.EncodeU32(pathPtr), api.EncodeU32(uint32(len(path))))
	if err != nil {
		return nil, nil, &SceneError{Path: path, Reason: err.Error()}
	}
	handle := api.DecodeU32(ret)
	if handle == 0 {
		return nil, nil, &SceneError{Path: path, Reason: m.lastError(ctx)}
	}

	ret, err = m.call(ctx, "make_data", api.EncodeU32(handle))
	if err != nil || api.DecodeU32(ret) == 0 {
		reason := m.lastError(ctx)
		if err != nil {
			reason = err.Error()
		}
		m.discard(ctx, handle, 0)
		return nil, nil, &SceneError{Path: path, Reason: reason}
	}
	dataHandle := api.DecodeU32(ret)

	ngeom, err := m.count(ctx, "model_ngeom", handle)
	if err != nil {
		m.discard(ctx, handle, dataHandle)
		return nil, nil, &SceneError{Path: path, Reason: err.Error()}
	}
	nbody, err := m.count(ctx, "model_nbody", handle)
	if err != nil {
		m.discard(ctx, handle, dataHandle)
		return nil, nil, &SceneError{Path: path, Reason: err.Error()}
	}

	model := &Model{
		Handle: handle,
		Path:   path,
		NGeom:  ngeom,
		NBody:  nbody,
	}
	m.models[handle] = model
	return model, &State{Handle: dataHandle, Model: model}, nil
}

// count reads a model size and rejects negative values.
func (m *Module) count(ctx context.Context, name string, handle uint32) (int, error) {
	ret, err := m.call(ctx, name, api.EncodeU32(handle))
	if err != nil {
		return 0, err
	}
	n := api.DecodeI32(ret)
	if n < 0 {
		return 0, fmt.Errorf("%s returned %d", name, n)
	}
	return int(n), nil
}

// discard frees handles of a half-loaded scene. A zero handle is skipped.
func (m *Module) discard(ctx context.Context, model, data uint32) {
	if data != 0 {
		if _, err := m.call(ctx, "delete_data", api.EncodeU32(data)); err != nil {
			m.log.Warn("guest delete_data failed", zap.Uint32("handle", data), zap.Error(err))
		}
	}
	if model != 0 {
		if _, err := m.call(ctx, "delete_model", api.EncodeU32(model)); err != nil {
			m.log.Warn("guest delete_model failed", zap.Uint32("handle", model), zap.Error(err))
		}
	}
}

// Step advances state by one physics step.
func (m *Module) Step(ctx context.Context, model *Model, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	ret, err := m.call(ctx, "step", api.EncodeU32(model.Handle), api.EncodeU32(state.Handle))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStep, err)
	}
	if rc := api.DecodeI32(ret); rc != 0 {
		if reason := m.lastError(ctx); reason != "" {
			return fmt.Errorf("%w: code %d: %s", ErrStep, rc, reason)
		}
		return fmt.Errorf("%w: code %d", ErrStep, rc)
	}

	t, err := m.call(ctx, "sim_time", api.EncodeU32(state.Handle))
	if err != nil {
		return err
	}
	state.Time = api.DecodeF64(t)
	state.Steps++
	return nil
}

// Geoms decodes every geom of model at the current state.
func (m *Module) Geoms(ctx context.Context, model *Model, state *State) ([]Geom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	out, err := m.alloc(ctx, GeomRecordSize)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx, out)

	if model.NGeom < 0 {
		return nil, fmt.Errorf("physics: model %d has negative geom count %d", model.Handle, model.NGeom)
	}
	geoms := make([]Geom, 0, model.NGeom)
	for i := 0; i < model.NGeom; i++ {
		ret, err := m.call(ctx, "geom_write",
			api.EncodeU32(model.Handle), api.EncodeU32(state.Handle),
			api.EncodeI32(int32(i)), api.EncodeU32(out))
		if err != nil {
			return nil, err
		}
		if rc := api.DecodeI32(ret); rc != 0 {
			return nil, fmt.Errorf("physics: geom_write(%d) returned %d", i, rc)
		}
		rec, ok := m.mod.Memory().Read(out, GeomRecordSize)
		if !ok {
			return nil, fmt.Errorf("%w: geom record at %#x", ErrGuestMemory, out)
		}
		g, err := decodeGeom(i, rec)
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, g)
	}
	return geoms, nil
}

// Free releases a model and its state.
func (m *Module) Free(ctx context.Context, model *Model, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if state != nil {
		if _, err := m.call(ctx, "delete_data", api.EncodeU32(state.Handle)); err != nil {
			return err
		}
	}
	if model != nil {
		if _, err := m.call(ctx, "delete_model", api.EncodeU32(model.Handle)); err != nil {
			return err
		}
		delete(m.models, model.Handle)
	}
	return nil
}

// Close tears down the runtime and drops the filesystem.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.models = nil
	m.files.Reset()
	return m.runtime.Close(ctx)
}
