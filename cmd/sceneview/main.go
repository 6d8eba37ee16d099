package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/sceneview/internal/config"
	"github.com/san-kum/sceneview/internal/fetch"
	"github.com/san-kum/sceneview/internal/gui"
	"github.com/san-kum/sceneview/internal/headless"
	"github.com/san-kum/sceneview/internal/logging"
	"github.com/san-kum/sceneview/internal/loop"
	"github.com/san-kum/sceneview/internal/metrics"
	"github.com/san-kum/sceneview/internal/physics"
	"github.com/san-kum/sceneview/internal/session"
	"github.com/san-kum/sceneview/internal/store"
	"github.com/san-kum/sceneview/internal/telemetry"
	"github.com/san-kum/sceneview/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	configFile string
	preset     string
	scenePath  string
	assetBase  string
	wasmPath   string
	width      int
	height     int
	step       bool
	logLevel   string
	logFormat  string
	plain      bool
	recordDir  string

	checkFrames int
	benchFrames int
)

func main() {
	// raylib must stay on the thread that created the window.
	runtime.LockOSThread()

	if err := newRootCmd().Execute(); err != nil {
		if reportable(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// reportable is false for startup failures, which the session has already
// logged with their stage.
func reportable(err error) bool {
	var serr *session.StartupError
	return !errors.As(err, &serr)
}

// newRootCmd builds the command tree. Without a subcommand the viewer
// window opens.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sceneview",
		Short:         "physics scene viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runView,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "camera/light preset (see presets)")
	pf.StringVar(&scenePath, "scene", "", "scene document, relative to --base")
	pf.StringVar(&assetBase, "base", "", "directory or http(s) URL the scene is resolved against")
	pf.StringVar(&wasmPath, "wasm", "", "physics module binary")
	pf.IntVar(&width, "width", 0, "viewport width")
	pf.IntVar(&height, "height", 0, "viewport height")
	pf.BoolVar(&step, "step", false, "advance the simulation every frame")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "console or json")

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "open the viewer window",
		RunE:  runView,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "run the startup pipeline headless and render a few frames",
		RunE:  runCheck,
	}
	checkCmd.Flags().IntVar(&checkFrames, "frames", 60, "frames to render")
	checkCmd.Flags().BoolVar(&plain, "plain", false, "log lines instead of the progress view")
	checkCmd.Flags().StringVar(&recordDir, "record", "", "save the run under this directory")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "measure headless frame times",
		RunE:  runBench,
	}
	benchCmd.Flags().IntVar(&benchFrames, "frames", 300, "frames to render")
	benchCmd.Flags().StringVar(&recordDir, "record", "", "save the run under this directory")

	runsCmd := &cobra.Command{
		Use:   "runs [dir]",
		Short: "list recorded runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listRuns,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list camera presets",
		RunE:  listPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage configuration files",
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "init [path]",
			Short: "write the default configuration",
			Args:  cobra.MaximumNArgs(1),
			RunE:  initConfig,
		},
		&cobra.Command{
			Use:   "show",
			Short: "print the effective configuration",
			RunE:  showConfig,
		},
	)

	rootCmd.AddCommand(viewCmd, checkCmd, benchCmd, runsCmd, presetsCmd, configCmd)
	return rootCmd
}

// loadConfig layers defaults, file, preset, environment and flags, in that
// order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		p.Apply(cfg)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("scene") {
		cfg.Asset.Scene = scenePath
	}
	if flags.Changed("base") {
		cfg.Asset.Base = assetBase
	}
	if flags.Changed("wasm") {
		cfg.Physics.WASM = wasmPath
	}
	if flags.Changed("width") {
		cfg.Render.Width = width
	}
	if flags.Changed("height") {
		cfg.Render.Height = height
	}
	if flags.Changed("step") {
		cfg.Physics.StepEnabled = step
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDeps(cfg *config.Config, log *zap.Logger, display session.DisplayFactory) session.Deps {
	return session.Deps{
		Loader: session.PhysicsLoader(physics.NewLoader(cfg.Physics.WASM,
			physics.WithLogger(log.Named("physics")))),
		Fetcher: fetch.New(cfg.Asset.Base, fetch.WithTimeout(cfg.Asset.FetchTimeout)),
		Display: display,
	}
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Tracing)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("trace flush failed", zap.Error(err))
		}
		_ = log.Sync()
	}
	return cfg, log, cleanup, nil
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var win *gui.Window
	display := func(ctx context.Context, rc config.RenderConfig) (session.Display, error) {
		w, err := gui.Open(rc, gui.WithLogger(log.Named("gui")))
		if err != nil {
			return nil, err
		}
		win = w
		return w, nil
	}

	s := session.New(cfg, newDeps(cfg, log, display), session.WithLogger(log))
	defer func() {
		if err := s.Dispose(context.Background()); err != nil {
			log.Warn("dispose failed", zap.Error(err))
		}
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}
	if m := s.Model(); m != nil && win != nil {
		win.SetStatus(fmt.Sprintf("%s  %d geoms  %d bodies", cfg.Asset.Scene, m.NGeom, m.NBody))
	}
	return interrupted(s.Run(ctx))
}

// interrupted treats Ctrl-C as a normal exit.
func interrupted(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var checkStages = []string{
	string(session.StageModule),
	string(session.StageMount),
	string(session.StageFetch),
	string(session.StageScene),
	string(session.StageGeometry),
	string(session.StageLoop),
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if plain {
		return check(cmd.Context(), cfg, log, nil)
	}
	// The progress view owns the terminal; only errors are logged.
	quiet := log.WithOptions(zap.IncreaseLevel(zap.ErrorLevel))
	return tui.Run(cmd.Context(), "sceneview check", checkStages,
		func(ctx context.Context, send func(tea.Msg)) error {
			return check(ctx, cfg, quiet, send)
		})
}

func check(ctx context.Context, cfg *config.Config, log *zap.Logger, send func(tea.Msg)) error {
	display := headless.New(checkFrames)
	opts := []session.Option{session.WithLogger(log)}
	if send != nil {
		opts = append(opts, session.WithObserver(func(e session.Event) {
			send(tui.StageMsg{Stage: string(e.Stage), Message: e.Message, Err: e.Err, Elapsed: e.Elapsed})
		}))
	}

	s := session.New(cfg, newDeps(cfg, log, headlessFactory(display)), opts...)
	defer s.Dispose(context.Background())

	start := time.Now()
	if err := s.Start(ctx); err != nil {
		return err
	}
	startup := time.Since(start)

	var seen []loop.Frame
	s.Loop().OnFrame(func(f loop.Frame) {
		seen = append(seen, f)
		if send != nil {
			send(tui.FrameMsg{Index: f.Index, Duration: f.Duration})
		}
	})
	if err := s.Run(ctx); err != nil {
		return err
	}
	log.Info("check passed",
		zap.Int("frames", len(display.Frames())),
		zap.Int("meshes", len(s.Scene().Meshes())))

	return record(log, "check", cfg, s, startup, seen, nil)
}

// record saves the run when --record is set.
func record(log *zap.Logger, kind string, cfg *config.Config, s *session.Session, startup time.Duration, seen []loop.Frame, values map[string]float64) error {
	if recordDir == "" {
		return nil
	}
	st := store.New(recordDir)
	if err := st.Init(); err != nil {
		return err
	}
	meta := store.RunMetadata{
		Kind:     kind,
		Scene:    cfg.Asset.Scene,
		Startup:  startup,
		Meshes:   len(s.Scene().Meshes()),
		Stepping: cfg.Physics.StepEnabled,
		Metrics:  values,
	}
	if m := s.Model(); m != nil {
		meta.Bodies = m.NBody
	}
	id, err := st.Save(meta, seen)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	log.Info("run recorded", zap.String("id", id), zap.String("dir", recordDir))
	return nil
}

func headlessFactory(d *headless.Display) session.DisplayFactory {
	return func(context.Context, config.RenderConfig) (session.Display, error) { return d, nil }
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	display := headless.New(benchFrames, headless.WithHistory(1))
	s := session.New(cfg, newDeps(cfg, log, headlessFactory(display)), session.WithLogger(log))
	defer s.Dispose(context.Background())

	start := time.Now()
	if err := s.Start(cmd.Context()); err != nil {
		return err
	}
	startup := time.Since(start)

	collector := metrics.NewCollector(
		metrics.NewMeanFrameTime(),
		metrics.NewFrameTime(50),
		metrics.NewFrameTime(99),
		metrics.NewFrameTime(100),
		metrics.NewStepRatio(),
	)
	var seen []loop.Frame
	s.Loop().OnFrame(func(f loop.Frame) {
		seen = append(seen, f)
		collector.Observe(f)
	})

	start = time.Now()
	if err := s.Run(cmd.Context()); err != nil {
		return err
	}
	total := time.Since(start)

	times := collector.Durations()
	if len(times) == 0 {
		return fmt.Errorf("no frames rendered")
	}
	values := collector.Values()

	fmt.Printf("scene: %s\n", cfg.Asset.Scene)
	fmt.Printf("startup: %v\n", startup)
	fmt.Printf("frames: %d in %v (stepping %v)\n", len(times), total, cfg.Physics.StepEnabled)
	fmt.Printf("frame ms: mean %.3f  p50 %.3f  p99 %.3f  max %.3f\n\n",
		values["frame_ms_mean"],
		values["frame_ms_p50"],
		values["frame_ms_p99"],
		values["frame_ms_p100"])

	fmt.Println(asciigraph.Plot(times,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("frame time (ms)"),
	))

	return record(log, "bench", cfg, s, startup, seen, values)
}

func listRuns(cmd *cobra.Command, args []string) error {
	dir := "runs"
	if len(args) > 0 {
		dir = args[0]
	}
	runs, err := store.New(dir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSCENE\tFRAMES\tMESHES\tMEAN MS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.3f\n", r.ID, r.Kind, r.Scene, r.Frames, r.Meshes, r.Metrics["frame_ms_mean"])
	}
	return w.Flush()
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFOV\tNEAR\tFAR\tPOSITION\tTARGET")
	for _, name := range config.ListPresets() {
		c := config.GetPreset(name).Camera
		fmt.Fprintf(w, "%s\t%.0f\t%g\t%g\t%v\t%v\n", name, c.FOV, c.Near, c.Far, c.Position, c.Target)
	}
	return w.Flush()
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := "sceneview.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
