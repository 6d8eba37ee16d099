package scene

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/sceneview/internal/config"
)

var (
	// ErrNoRenderer indicates no output surface could be created.
	ErrNoRenderer = errors.New("scene: no renderer available")

	// ErrViewport indicates a degenerate output size.
	ErrViewport = errors.New("scene: invalid viewport size")
)

// Renderer draws a scene through a camera onto an output surface.
type Renderer interface {
	Render(s *Scene, cam *PerspectiveCamera) error
	SetSize(width, height int)
	Size() (width, height int)
}

// Base is the physics-independent shell of a session's render scene.
type Base struct {
	Scene    *Scene
	Camera   *PerspectiveCamera
	Renderer Renderer
	Controls *OrbitControls
	Ambient  *AmbientLight
	Sun      *DirectionalLight
}

func vec(v config.Vec3) mgl32.Vec3 { return mgl32.Vec3{v[0], v[1], v[2]} }

// BuildBase creates the scene with its background and lights, the camera
// and orbit controls, and sizes the renderer to the viewport.
func BuildBase(rc config.RenderConfig, cc config.CameraConfig, width, height int, r Renderer) (*Base, error) {
	if r == nil {
		return nil, ErrNoRenderer
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrViewport, width, height)
	}

	bg, err := ParseColor(rc.Background)
	if err != nil {
		return nil, err
	}
	ambColor, err := ParseColor(rc.Ambient.Color)
	if err != nil {
		return nil, err
	}
	sunColor, err := ParseColor(rc.Directional.Color)
	if err != nil {
		return nil, err
	}

	s := New()
	s.Background = bg

	amb := NewAmbientLight(ambColor, rc.Ambient.Intensity)
	s.Add(amb)

	sun := NewDirectionalLight(sunColor, rc.Directional.Intensity)
	sun.Position = vec(rc.Directional.Position)
	s.Add(sun)

	cam := NewPerspectiveCamera(cc.FOV, float32(width)/float32(height), cc.Near, cc.Far)
	cam.Position = vec(cc.Position)

	r.SetSize(width, height)

	controls := NewOrbitControls(cam)
	controls.Target = vec(cc.Target)
	controls.EnableDamping = cc.Damping
	controls.DampingFactor = cc.DampingFactor
	controls.Update()

	return &Base{
		Scene:    s,
		Camera:   cam,
		Renderer: r,
		Controls: controls,
		Ambient:  amb,
		Sun:      sun,
	}, nil
}
