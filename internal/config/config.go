package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultWidth        = 1280
	DefaultHeight       = 720
	DefaultTargetFPS    = 60
	DefaultMount        = "/working"
	DefaultSceneFile    = "coop-openended-v2.xml"
	DefaultScenePath    = "../environment/coop-openended-v2.xml"
	DefaultWASMPath     = "mujoco_wasm.wasm"
	DefaultFOV          = 45.0
	DefaultNear         = 0.001
	DefaultFar          = 100.0
	DefaultDamping      = 0.05
	DefaultFetchTimeout = 30 * time.Second
)

// Vec3 is a yaml-friendly 3-vector: [x, y, z].
type Vec3 [3]float32

type Config struct {
	Asset   AssetConfig   `yaml:"asset"`
	Physics PhysicsConfig `yaml:"physics"`
	Render  RenderConfig  `yaml:"render"`
	Camera  CameraConfig  `yaml:"camera"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// AssetConfig locates the scene document. Scene is resolved against Base,
// which is either a directory or an http(s) URL.
type AssetConfig struct {
	Base         string        `yaml:"base" env:"SCENEVIEW_ASSET_BASE"`
	Scene        string        `yaml:"scene" env:"SCENEVIEW_SCENE"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"SCENEVIEW_FETCH_TIMEOUT"`
}

type PhysicsConfig struct {
	WASM          string `yaml:"wasm" env:"SCENEVIEW_WASM"`
	Mount         string `yaml:"mount"`
	Filename      string `yaml:"filename"`
	StepEnabled   bool   `yaml:"step_enabled" env:"SCENEVIEW_STEP"`
	StepsPerFrame int    `yaml:"steps_per_frame"`
}

type RenderConfig struct {
	Title       string      `yaml:"title"`
	Width       int         `yaml:"width" env:"SCENEVIEW_WIDTH"`
	Height      int         `yaml:"height" env:"SCENEVIEW_HEIGHT"`
	TargetFPS   int         `yaml:"target_fps"`
	Antialias   bool        `yaml:"antialias"`
	Background  string      `yaml:"background"`
	Ambient     LightConfig `yaml:"ambient"`
	Directional LightConfig `yaml:"directional"`
}

// LightConfig describes one light. Position is ignored for ambient lights.
type LightConfig struct {
	Color     string  `yaml:"color"`
	Intensity float32 `yaml:"intensity"`
	Position  Vec3    `yaml:"position"`
}

type CameraConfig struct {
	FOV           float32 `yaml:"fov"`
	Near          float32 `yaml:"near"`
	Far           float32 `yaml:"far"`
	Position      Vec3    `yaml:"position"`
	Target        Vec3    `yaml:"target"`
	Damping       bool    `yaml:"damping"`
	DampingFactor float32 `yaml:"damping_factor"`
}

// TracingConfig controls OTLP span export. Nothing is exported while
// Endpoint is empty.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"SCENEVIEW_OTEL_ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"SCENEVIEW_OTEL_ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SCENEVIEW_OTEL_SERVICE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SCENEVIEW_OTEL_SAMPLE_RATIO"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"SCENEVIEW_LOG_LEVEL"`
	Format string `yaml:"format" env:"SCENEVIEW_LOG_FORMAT"`
}

// DefaultConfig returns the tabletop-scale viewer setup.
func DefaultConfig() *Config {
	return &Config{
		Asset: AssetConfig{
			Base:         ".",
			Scene:        DefaultScenePath,
			FetchTimeout: DefaultFetchTimeout,
		},
		Physics: PhysicsConfig{
			WASM:          DefaultWASMPath,
			Mount:         DefaultMount,
			Filename:      DefaultSceneFile,
			StepsPerFrame: 1,
		},
		Render: RenderConfig{
			Title:      "sceneview",
			Width:      DefaultWidth,
			Height:     DefaultHeight,
			TargetFPS:  DefaultTargetFPS,
			Antialias:  true,
			Background: "#e6e6e6",
			Ambient:    LightConfig{Color: "#ffffff", Intensity: 0.8},
			Directional: LightConfig{
				Color:     "#ffffff",
				Intensity: 1.0,
				Position:  Vec3{5, 10, 7.5},
			},
		},
		Camera: CameraConfig{
			FOV:           DefaultFOV,
			Near:          DefaultNear,
			Far:           DefaultFar,
			Position:      Vec3{2.0, 1.5, 2.0},
			Target:        Vec3{0, 0.7, 0},
			Damping:       true,
			DampingFactor: DefaultDamping,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "sceneview",
			SampleRatio: 1,
		},
	}
}

// Load reads a yaml config on top of the defaults. Environment overrides
// are applied afterwards by ApplyEnv.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields tagged with SCENEVIEW_* variables that are set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// DocumentPath is the handoff path inside the physics module's filesystem.
func (c *Config) DocumentPath() string {
	mount := c.Physics.Mount
	if mount == "" {
		mount = DefaultMount
	}
	name := c.Physics.Filename
	if name == "" {
		name = DefaultSceneFile
	}
	if mount[len(mount)-1] == '/' {
		return mount + name
	}
	return mount + "/" + name
}

func (c *Config) Validate() error {
	if c.Asset.Scene == "" {
		return fmt.Errorf("asset.scene is required")
	}
	if c.Physics.WASM == "" {
		return fmt.Errorf("physics.wasm is required")
	}
	if c.Physics.Mount == "" || c.Physics.Mount[0] != '/' {
		return fmt.Errorf("physics.mount must be an absolute path, got %q", c.Physics.Mount)
	}
	if c.Physics.StepsPerFrame < 0 {
		return fmt.Errorf("physics.steps_per_frame must not be negative, got %d", c.Physics.StepsPerFrame)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Camera.FOV <= 0 || c.Camera.FOV >= 180 {
		return fmt.Errorf("camera.fov must be in (0, 180), got %f", c.Camera.FOV)
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		return fmt.Errorf("camera planes must satisfy 0 < near < far, got near=%f far=%f", c.Camera.Near, c.Camera.Far)
	}
	if c.Camera.DampingFactor < 0 || c.Camera.DampingFactor > 1 {
		return fmt.Errorf("camera.damping_factor must be in [0, 1], got %f", c.Camera.DampingFactor)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %f", c.Tracing.SampleRatio)
	}
	return nil
}
