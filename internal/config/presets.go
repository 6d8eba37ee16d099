package config

import "sort"

// Preset holds the spatial constants for one scene scale.
type Preset struct {
	Camera      CameraConfig
	LightOffset Vec3
}

var Presets = map[string]*Preset{
	"tabletop": {
		Camera: CameraConfig{
			FOV: 45, Near: 0.001, Far: 100,
			Position: Vec3{2.0, 1.5, 2.0}, Target: Vec3{0, 0.7, 0},
			Damping: true, DampingFactor: 0.05,
		},
		LightOffset: Vec3{5, 10, 7.5},
	},
	"room": {
		Camera: CameraConfig{
			FOV: 50, Near: 0.01, Far: 500,
			Position: Vec3{6, 4, 6}, Target: Vec3{0, 1, 0},
			Damping: true, DampingFactor: 0.08,
		},
		LightOffset: Vec3{10, 20, 15},
	},
	"field": {
		Camera: CameraConfig{
			FOV: 60, Near: 0.1, Far: 5000,
			Position: Vec3{40, 25, 40}, Target: Vec3{0, 0, 0},
			Damping: true, DampingFactor: 0.1,
		},
		LightOffset: Vec3{100, 200, 150},
	},
	"closeup": {
		Camera: CameraConfig{
			FOV: 35, Near: 0.0001, Far: 10,
			Position: Vec3{0.3, 0.25, 0.3}, Target: Vec3{0, 0.1, 0},
			Damping: true, DampingFactor: 0.05,
		},
		LightOffset: Vec3{1, 2, 1.5},
	},
}

func GetPreset(name string) *Preset {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply copies the preset's camera and light placement into cfg.
func (p *Preset) Apply(cfg *Config) {
	cfg.Camera = p.Camera
	cfg.Render.Directional.Position = p.LightOffset
}
