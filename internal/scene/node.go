// Package scene is the rendering scene graph: a tree of groups, meshes and
// lights under a root Scene, viewed through a perspective camera.
package scene

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Color is linear RGBA in [0, 1].
type Color struct {
	R, G, B, A float32
}

func RGB(r, g, b float32) Color { return Color{r, g, b, 1} }

var White = RGB(1, 1, 1)

// ParseColor accepts "#rrggbb" or "#rrggbbaa".
func ParseColor(hex string) (Color, error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 && len(s) != 8 {
		return Color{}, fmt.Errorf("scene: invalid color %q", hex)
	}
	if len(s) == 6 {
		s += "ff"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("scene: invalid color %q: %w", hex, err)
	}
	return Color{
		R: float32(v>>24&0xff) / 255,
		G: float32(v>>16&0xff) / 255,
		B: float32(v>>8&0xff) / 255,
		A: float32(v&0xff) / 255,
	}, nil
}

// Scale multiplies the colour channels, leaving alpha.
func (c Color) Scale(f float32) Color {
	return Color{clamp01(c.R * f), clamp01(c.G * f), clamp01(c.B * f), c.A}
}

// Object is anything that can live in the graph.
type Object interface {
	base() *Node
}

// Node carries the transform and children shared by every object.
type Node struct {
	Name     string
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	Visible  bool

	parent   *Node
	children []Object
}

func (n *Node) base() *Node { return n }

func (n *Node) init(name string) {
	n.Name = name
	n.Rotation = mgl32.QuatIdent()
	n.Scale = mgl32.Vec3{1, 1, 1}
	n.Visible = true
}

// Add attaches objects, detaching them from any previous parent.
func (n *Node) Add(objs ...Object) {
	for _, o := range objs {
		b := o.base()
		if b == n {
			continue
		}
		if b.parent != nil {
			b.parent.Remove(o)
		}
		b.parent = n
		n.children = append(n.children, o)
	}
}

func (n *Node) Remove(obj Object) bool {
	for i, c := range n.children {
		if c == obj {
			n.children = append(n.children[:i], n.children[i+1:]...)
			obj.base().parent = nil
			return true
		}
	}
	return false
}

func (n *Node) Children() []Object { return n.children }

func (n *Node) Parent() *Node { return n.parent }

// Traverse visits every descendant depth-first, parents before children.
func (n *Node) Traverse(fn func(Object)) {
	for _, c := range n.children {
		fn(c)
		c.base().Traverse(fn)
	}
}

// LocalMatrix is T * R * S.
func (n *Node) LocalMatrix() mgl32.Mat4 {
	t := mgl32.Translate3D(n.Position.X(), n.Position.Y(), n.Position.Z())
	s := mgl32.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
	return t.Mul4(n.Rotation.Mat4()).Mul4(s)
}

// WorldMatrix composes the local matrices from the root down.
func (n *Node) WorldMatrix() mgl32.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

type Group struct {
	Node
}

func NewGroup(name string) *Group {
	g := &Group{}
	g.init(name)
	return g
}

type Shape int

const (
	ShapePlane Shape = iota
	ShapeSphere
	ShapeCapsule
	ShapeEllipsoid
	ShapeCylinder
	ShapeBox
)

func (s Shape) String() string {
	switch s {
	case ShapePlane:
		return "plane"
	case ShapeSphere:
		return "sphere"
	case ShapeCapsule:
		return "capsule"
	case ShapeEllipsoid:
		return "ellipsoid"
	case ShapeCylinder:
		return "cylinder"
	case ShapeBox:
		return "box"
	}
	return "shape(" + strconv.Itoa(int(s)) + ")"
}

// Mesh is a renderable primitive. Size holds half-extents for box,
// ellipsoid and plane (Y unused), radius in X and half-length along local Y
// for capsule and cylinder, and radius in X for sphere.
type Mesh struct {
	Node
	Shape Shape
	Size  mgl32.Vec3
	Color Color
	// Source identifies the physics geom the mesh was built from.
	Source int
}

func NewMesh(name string, shape Shape, size mgl32.Vec3, color Color) *Mesh {
	m := &Mesh{Shape: shape, Size: size, Color: color, Source: -1}
	m.init(name)
	return m
}

type AmbientLight struct {
	Node
	Color     Color
	Intensity float32
}

func NewAmbientLight(color Color, intensity float32) *AmbientLight {
	l := &AmbientLight{Color: color, Intensity: intensity}
	l.init("ambient")
	return l
}

// DirectionalLight shines from Position toward the origin.
type DirectionalLight struct {
	Node
	Color     Color
	Intensity float32
}

func NewDirectionalLight(color Color, intensity float32) *DirectionalLight {
	l := &DirectionalLight{Color: color, Intensity: intensity}
	l.init("directional")
	return l
}

// Direction is the unit vector the light travels along.
func (l *DirectionalLight) Direction() mgl32.Vec3 {
	if l.Position.Len() == 0 {
		return mgl32.Vec3{0, -1, 0}
	}
	return l.Position.Mul(-1).Normalize()
}

type Scene struct {
	Node
	Background Color
}

func New() *Scene {
	s := &Scene{Background: RGB(0, 0, 0)}
	s.init("scene")
	return s
}

// Count returns the number of descendants.
func (s *Scene) Count() int {
	n := 0
	s.Traverse(func(Object) { n++ })
	return n
}

// Meshes lists every mesh in traversal order.
func (s *Scene) Meshes() []*Mesh {
	var out []*Mesh
	s.Traverse(func(o Object) {
		if m, ok := o.(*Mesh); ok {
			out = append(out, m)
		}
	})
	return out
}

// Lighting returns the first ambient and directional lights, either may be nil.
func (s *Scene) Lighting() (*AmbientLight, *DirectionalLight) {
	var amb *AmbientLight
	var dir *DirectionalLight
	s.Traverse(func(o Object) {
		switch l := o.(type) {
		case *AmbientLight:
			if amb == nil {
				amb = l
			}
		case *DirectionalLight:
			if dir == nil {
				dir = l
			}
		}
	})
	return amb, dir
}
