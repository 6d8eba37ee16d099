package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PerspectiveCamera keeps its projection matrix in sync with FOV, Aspect,
// Near and Far only when UpdateProjectionMatrix is called.
type PerspectiveCamera struct {
	Position mgl32.Vec3
	Up       mgl32.Vec3
	FOV      float32 // vertical, degrees
	Aspect   float32
	Near     float32
	Far      float32

	target     mgl32.Vec3
	projection mgl32.Mat4
}

func NewPerspectiveCamera(fov, aspect, near, far float32) *PerspectiveCamera {
	c := &PerspectiveCamera{
		Up:     mgl32.Vec3{0, 1, 0},
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Far:    far,
	}
	c.UpdateProjectionMatrix()
	return c
}

func (c *PerspectiveCamera) UpdateProjectionMatrix() {
	c.projection = mgl32.Perspective(mgl32.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

func (c *PerspectiveCamera) Projection() mgl32.Mat4 { return c.projection }

func (c *PerspectiveCamera) LookAt(target mgl32.Vec3) { c.target = target }

func (c *PerspectiveCamera) Target() mgl32.Vec3 { return c.target }

func (c *PerspectiveCamera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.target, c.Up)
}

// SetAspect updates the aspect ratio from a viewport size and recomputes
// the projection. Degenerate sizes are ignored.
func (c *PerspectiveCamera) SetAspect(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	c.Aspect = float32(width) / float32(height)
	c.UpdateProjectionMatrix()
	return true
}

const polarEpsilon = 1e-6

type spherical struct {
	radius, theta, phi float64
}

func toSpherical(v mgl32.Vec3) spherical {
	r := float64(v.Len())
	if r == 0 {
		return spherical{}
	}
	y := float64(v.Y()) / r
	if y > 1 {
		y = 1
	} else if y < -1 {
		y = -1
	}
	return spherical{
		radius: r,
		theta:  math.Atan2(float64(v.X()), float64(v.Z())),
		phi:    math.Acos(y),
	}
}

func (s spherical) vec() mgl32.Vec3 {
	sinPhi := math.Sin(s.phi)
	return mgl32.Vec3{
		float32(s.radius * sinPhi * math.Sin(s.theta)),
		float32(s.radius * math.Cos(s.phi)),
		float32(s.radius * sinPhi * math.Cos(s.theta)),
	}
}

// OrbitControls orbits the camera around Target. Input accumulates deltas;
// Update applies them, damped when EnableDamping is set.
type OrbitControls struct {
	Camera        *PerspectiveCamera
	Target        mgl32.Vec3
	EnableDamping bool
	DampingFactor float32
	MinDistance   float32
	MaxDistance   float32

	delta   spherical
	scale   float64
	pan     mgl32.Vec3
	updates int
}

func NewOrbitControls(cam *PerspectiveCamera) *OrbitControls {
	return &OrbitControls{
		Camera:        cam,
		DampingFactor: 0.05,
		MaxDistance:   float32(math.Inf(1)),
		scale:         1,
	}
}

// Rotate queues an azimuth (theta) and polar (phi) change in radians.
func (o *OrbitControls) Rotate(dTheta, dPhi float64) {
	o.delta.theta += dTheta
	o.delta.phi += dPhi
}

// Dolly queues a distance change; factors below 1 move closer.
func (o *OrbitControls) Dolly(factor float64) {
	if factor > 0 {
		o.scale *= factor
	}
}

// Pan queues a translation of both camera and target.
func (o *OrbitControls) Pan(offset mgl32.Vec3) {
	o.pan = o.pan.Add(offset)
}

// Updates counts Update calls.
func (o *OrbitControls) Updates() int { return o.updates }

// Update moves the camera and reports whether its position changed.
func (o *OrbitControls) Update() bool {
	o.updates++
	cam := o.Camera
	before := cam.Position

	s := toSpherical(cam.Position.Sub(o.Target))

	damping := 1.0
	if o.EnableDamping {
		damping = float64(o.DampingFactor)
	}
	s.theta += o.delta.theta * damping
	s.phi += o.delta.phi * damping
	s.phi = math.Max(polarEpsilon, math.Min(math.Pi-polarEpsilon, s.phi))

	s.radius *= o.scale
	s.radius = math.Max(float64(o.MinDistance), math.Min(float64(o.MaxDistance), s.radius))

	o.Target = o.Target.Add(o.pan.Mul(float32(damping)))
	cam.Position = o.Target.Add(s.vec())
	cam.LookAt(o.Target)

	if o.EnableDamping {
		o.delta.theta *= 1 - damping
		o.delta.phi *= 1 - damping
		o.pan = o.pan.Mul(float32(1 - damping))
	} else {
		o.delta = spherical{}
		o.pan = mgl32.Vec3{}
	}
	o.scale = 1

	return cam.Position.Sub(before).Len() > 1e-5
}

// RotateDrag maps a pointer drag in pixels to an orbit, one full turn per
// viewport height.
func (o *OrbitControls) RotateDrag(dx, dy float32, height int) {
	if height <= 0 {
		return
	}
	h := float64(height)
	o.Rotate(-2*math.Pi*float64(dx)/h, -2*math.Pi*float64(dy)/h)
}

// PanDrag maps a pointer drag in pixels to a translation in the view plane
// so the point under the cursor follows it at the target's depth.
func (o *OrbitControls) PanDrag(dx, dy float32, height int) {
	if height <= 0 {
		return
	}
	cam := o.Camera
	dist := cam.Position.Sub(o.Target).Len() * float32(math.Tan(float64(mgl32.DegToRad(cam.FOV))/2))
	view := mgl32.LookAtV(cam.Position, o.Target, cam.Up)
	right := view.Row(0).Vec3()
	up := view.Row(1).Vec3()
	h := float32(height)
	o.Pan(right.Mul(-2 * dx * dist / h).Add(up.Mul(2 * dy * dist / h)))
}

// Wheel dollies in for positive steps and out for negative ones.
func (o *OrbitControls) Wheel(steps float32) {
	switch {
	case steps > 0:
		o.Dolly(math.Pow(dollyStep, float64(steps)))
	case steps < 0:
		o.Dolly(math.Pow(1/dollyStep, float64(-steps)))
	}
}

const dollyStep = 0.95
