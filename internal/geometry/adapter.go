// Package geometry mirrors the geoms of a loaded physics model into the
// render scene and keeps their transforms in sync with the simulation state.
//
// The physics engine is Z-up and the scene graph is Y-up. Positions map
// (x, y, z) -> (x, z, -y); orientations are conjugated by the same rotation,
// so geom-local axes follow and primitive extents are swizzled to match.
package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/sceneview/internal/physics"
	"github.com/san-kum/sceneview/internal/scene"
	"go.uber.org/zap"
)

var (
	ErrAlreadyAttached = errors.New("geometry: already attached")
	ErrNotAttached     = errors.New("geometry: not attached")
	// ErrGeomCount indicates the model reported a different number of geoms
	// than were attached.
	ErrGeomCount = errors.New("geometry: geom count mismatch")
)

// GroupName names the node holding every attached mesh.
const GroupName = "physics"

const (
	defaultPlaneExtent = 10
	minExtent          = 0.005
)

// Source supplies the decoded geoms of a model at a given state.
type Source interface {
	Geoms(ctx context.Context, model *physics.Model, state *physics.State) ([]physics.Geom, error)
}

type Adapter struct {
	log         *zap.Logger
	planeExtent float32

	group  *scene.Group
	meshes []*scene.Mesh
}

type Option func(*Adapter)

func WithLogger(log *zap.Logger) Option { return func(a *Adapter) { a.log = log } }

// WithPlaneExtent sets the half-extent drawn for infinite planes.
func WithPlaneExtent(e float32) Option { return func(a *Adapter) { a.planeExtent = e } }

func New(opts ...Option) *Adapter {
	a := &Adapter{log: zap.NewNop(), planeExtent: defaultPlaneExtent}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach builds one mesh per geom under a single group and adds the group to
// s. It may be called once per adapter.
func (a *Adapter) Attach(ctx context.Context, src Source, model *physics.Model, state *physics.State, s *scene.Scene) error {
	if a.group != nil {
		return ErrAlreadyAttached
	}
	if s == nil {
		return errors.New("geometry: nil scene")
	}

	geoms, err := src.Geoms(ctx, model, state)
	if err != nil {
		return fmt.Errorf("geometry: read geoms: %w", err)
	}

	group := scene.NewGroup(GroupName)
	meshes := make([]*scene.Mesh, 0, len(geoms))
	approximated := make(map[physics.GeomType]int)

	for _, g := range geoms {
		shape, size, exact := a.primitive(g)
		if !exact {
			approximated[g.Type]++
		}
		m := scene.NewMesh(fmt.Sprintf("geom%d", g.Index), shape, size, color(g.RGBA))
		m.Source = g.Index
		m.Visible = g.RGBA.W() > 0
		place(m, g)
		group.Add(m)
		meshes = append(meshes, m)
	}

	for t, n := range approximated {
		a.log.Warn("unsupported geom type drawn as bounding box",
			zap.Stringer("type", t), zap.Int("count", n))
	}

	s.Add(group)
	a.group = group
	a.meshes = meshes
	return nil
}

// Sync refreshes mesh transforms from the current state.
func (a *Adapter) Sync(ctx context.Context, src Source, model *physics.Model, state *physics.State) error {
	if a.group == nil {
		return ErrNotAttached
	}
	geoms, err := src.Geoms(ctx, model, state)
	if err != nil {
		return fmt.Errorf("geometry: read geoms: %w", err)
	}
	if len(geoms) != len(a.meshes) {
		return fmt.Errorf("%w: attached %d, got %d", ErrGeomCount, len(a.meshes), len(geoms))
	}
	for i, g := range geoms {
		place(a.meshes[i], g)
	}
	return nil
}

// Group is the attached node, nil before Attach.
func (a *Adapter) Group() *scene.Group { return a.group }

func (a *Adapter) Meshes() []*scene.Mesh { return a.meshes }

// Detach removes the group from its scene.
func (a *Adapter) Detach() {
	if a.group == nil {
		return
	}
	if p := a.group.Parent(); p != nil {
		p.Remove(a.group)
	}
	a.group = nil
	a.meshes = nil
}

func (a *Adapter) primitive(g physics.Geom) (scene.Shape, mgl32.Vec3, bool) {
	s := g.Size
	switch g.Type {
	case physics.GeomPlane:
		x, z := s.X(), s.Y()
		if x <= 0 {
			x = a.planeExtent
		}
		if z <= 0 {
			z = a.planeExtent
		}
		return scene.ShapePlane, mgl32.Vec3{x, 0, z}, true
	case physics.GeomSphere:
		return scene.ShapeSphere, mgl32.Vec3{s.X(), s.X(), s.X()}, true
	case physics.GeomCapsule:
		return scene.ShapeCapsule, mgl32.Vec3{s.X(), s.Y(), s.X()}, true
	case physics.GeomCylinder:
		return scene.ShapeCylinder, mgl32.Vec3{s.X(), s.Y(), s.X()}, true
	case physics.GeomEllipsoid:
		return scene.ShapeEllipsoid, swizzleExtent(s), true
	case physics.GeomBox:
		return scene.ShapeBox, swizzleExtent(s), true
	}
	ext := swizzleExtent(s)
	for i := range ext {
		if ext[i] < minExtent {
			ext[i] = minExtent
		}
	}
	return scene.ShapeBox, ext, false
}

func place(m *scene.Mesh, g physics.Geom) {
	m.Position = toYUp(g.Pos)
	m.Rotation = quatToYUp(g.Quat)
}

func toYUp(v mgl32.Vec3) mgl32.Vec3 { return mgl32.Vec3{v.X(), v.Z(), -v.Y()} }

func quatToYUp(q mgl32.Quat) mgl32.Quat {
	return mgl32.Quat{W: q.W, V: toYUp(q.V)}.Normalize()
}

func swizzleExtent(v mgl32.Vec3) mgl32.Vec3 { return mgl32.Vec3{v.X(), v.Z(), v.Y()} }

func color(c mgl32.Vec4) scene.Color {
	return scene.Color{R: c.X(), G: c.Y(), B: c.Z(), A: c.W()}
}
