package gui

import (
	"fmt"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/sceneview/internal/scene"
)

const (
	sphereRings  = 16
	sphereSlices = 16
	cylSlices    = 24
)

// Render draws s through cam. Meshes are shaded once per primitive with
// ambient plus Lambertian light taken at the face pointing at the camera.
func (w *Window) Render(s *scene.Scene, cam *scene.PerspectiveCamera) error {
	if w.closed {
		return ErrNoContext
	}
	amb, sun := s.Lighting()

	rl.BeginDrawing()
	rl.ClearBackground(toRL(s.Background))

	rl.BeginMode3D(rlCamera(cam))
	drawChildren(&s.Node, cam, amb, sun, w.wireframe)
	rl.EndMode3D()

	if w.hud {
		w.drawHUD(len(s.Meshes()))
	}
	rl.EndDrawing()
	return nil
}

func drawChildren(n *scene.Node, cam *scene.PerspectiveCamera, amb *scene.AmbientLight, sun *scene.DirectionalLight, wire bool) {
	for _, c := range n.Children() {
		switch o := c.(type) {
		case *scene.Group:
			if !o.Visible {
				continue
			}
			rl.PushMatrix()
			applyTransform(&o.Node)
			drawChildren(&o.Node, cam, amb, sun, wire)
			rl.PopMatrix()
		case *scene.Mesh:
			if !o.Visible {
				continue
			}
			rl.PushMatrix()
			applyTransform(&o.Node)
			facing := cam.Position.Sub(o.WorldMatrix().Col(3).Vec3())
			drawMesh(o, toRL(scene.Shade(o.Color, amb, sun, facing)), wire)
			drawChildren(&o.Node, cam, amb, sun, wire)
			rl.PopMatrix()
		}
	}
}

func applyTransform(n *scene.Node) {
	rl.Translatef(n.Position.X(), n.Position.Y(), n.Position.Z())
	if angle, axis := axisAngle(n.Rotation); angle != 0 {
		rl.Rotatef(angle, axis.X(), axis.Y(), axis.Z())
	}
	rl.Scalef(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
}

// drawMesh draws m in its local frame, centred at the origin.
func drawMesh(m *scene.Mesh, col rl.Color, wire bool) {
	origin := rl.NewVector3(0, 0, 0)
	sz := m.Size
	switch m.Shape {
	case scene.ShapeSphere:
		if wire {
			rl.DrawSphereWires(origin, sz.X(), sphereRings, sphereSlices, col)
			return
		}
		rl.DrawSphereEx(origin, sz.X(), sphereRings, sphereSlices, col)
	case scene.ShapeEllipsoid:
		rl.PushMatrix()
		rl.Scalef(sz.X(), sz.Y(), sz.Z())
		if wire {
			rl.DrawSphereWires(origin, 1, sphereRings, sphereSlices, col)
		} else {
			rl.DrawSphereEx(origin, 1, sphereRings, sphereSlices, col)
		}
		rl.PopMatrix()
	case scene.ShapeCapsule:
		top, bottom := rl.NewVector3(0, sz.Y(), 0), rl.NewVector3(0, -sz.Y(), 0)
		if wire {
			rl.DrawCapsuleWires(bottom, top, sz.X(), cylSlices, sphereRings/2, col)
			return
		}
		rl.DrawCapsule(bottom, top, sz.X(), cylSlices, sphereRings/2, col)
	case scene.ShapeCylinder:
		base := rl.NewVector3(0, -sz.Y(), 0)
		if wire {
			rl.DrawCylinderWires(base, sz.X(), sz.X(), 2*sz.Y(), cylSlices, col)
			return
		}
		rl.DrawCylinder(base, sz.X(), sz.X(), 2*sz.Y(), cylSlices, col)
	case scene.ShapeBox:
		if wire {
			rl.DrawCubeWires(origin, 2*sz.X(), 2*sz.Y(), 2*sz.Z(), col)
			return
		}
		rl.DrawCube(origin, 2*sz.X(), 2*sz.Y(), 2*sz.Z(), col)
		rl.DrawCubeWires(origin, 2*sz.X(), 2*sz.Y(), 2*sz.Z(), ColWire)
	case scene.ShapePlane:
		rl.DrawPlane(origin, rl.NewVector2(2*sz.X(), 2*sz.Z()), col)
	}
}

func (w *Window) drawHUD(meshes int) {
	rl.DrawFPS(10, 10)
	line := fmt.Sprintf("%d meshes", meshes)
	if w.status != "" {
		line = w.status + "  " + line
	}
	rl.DrawText(line, 10, 34, 16, ColText)
	rl.DrawText("[LMB] ORBIT  [RMB] PAN  [WHEEL] ZOOM  [F] WIRES  [H] HUD  [Q] QUIT",
		10, int32(w.height)-24, 14, ColTextDim)
}

func rlCamera(c *scene.PerspectiveCamera) rl.Camera3D {
	return rl.Camera3D{
		Position:   toVec(c.Position),
		Target:     toVec(c.Target()),
		Up:         toVec(c.Up),
		Fovy:       c.FOV,
		Projection: rl.CameraPerspective,
	}
}

func toVec(v mgl32.Vec3) rl.Vector3 { return rl.NewVector3(v.X(), v.Y(), v.Z()) }

func toRL(c scene.Color) rl.Color {
	b := func(v float32) uint8 { return uint8(math.Round(float64(v) * 255)) }
	return rl.NewColor(b(c.R), b(c.G), b(c.B), b(c.A))
}

// axisAngle converts a unit quaternion to degrees about an axis.
func axisAngle(q mgl32.Quat) (float32, mgl32.Vec3) {
	q = q.Normalize()
	w := math.Max(-1, math.Min(1, float64(q.W)))
	s := math.Sqrt(1 - w*w)
	if s < 1e-6 {
		return 0, mgl32.Vec3{1, 0, 0}
	}
	angle := 2 * math.Acos(w) * 180 / math.Pi
	return float32(angle), q.V.Mul(float32(1 / s))
}
