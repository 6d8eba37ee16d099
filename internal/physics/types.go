package physics

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type GeomType int32

const (
	GeomPlane GeomType = iota
	GeomHeightField
	GeomSphere
	GeomCapsule
	GeomEllipsoid
	GeomCylinder
	GeomBox
	GeomMesh
)

var geomNames = map[GeomType]string{
	GeomPlane:       "plane",
	GeomHeightField: "hfield",
	GeomSphere:      "sphere",
	GeomCapsule:     "capsule",
	GeomEllipsoid:   "ellipsoid",
	GeomCylinder:    "cylinder",
	GeomBox:         "box",
	GeomMesh:        "mesh",
}

func (g GeomType) String() string {
	if name, ok := geomNames[g]; ok {
		return name
	}
	return fmt.Sprintf("geom(%d)", int32(g))
}

// GeomRecordSize is the byte size of one record written by geom_write.
const GeomRecordSize = 64

// Geom is one collision/visual primitive of a loaded model. Size follows the
// physics engine's convention: half-extents for boxes, radius and half-length
// for capsules and cylinders.
type Geom struct {
	Index int
	Type  GeomType
	Body  int32
	Size  mgl32.Vec3
	Pos   mgl32.Vec3
	Quat  mgl32.Quat
	RGBA  mgl32.Vec4
}

// Model is the static structure of a loaded scene.
type Model struct {
	Handle uint32
	Path   string
	NGeom  int
	NBody  int
}

// State is the mutable simulation state paired with a Model.
type State struct {
	Handle uint32
	Model  *Model
	Time   float64
	Steps  int
}

// decodeGeom reads one record: type i32, body i32, size f32[3], pos f32[3],
// quat f32[4] (w, x, y, z), rgba f32[4].
func decodeGeom(index int, rec []byte) (Geom, error) {
	if len(rec) < GeomRecordSize {
		return Geom{}, fmt.Errorf("%w: geom record %d is %d bytes", ErrGuestMemory, index, len(rec))
	}
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(rec[off:])) }

	g := Geom{
		Index: index,
		Type:  GeomType(int32(le.Uint32(rec[0:]))),
		Body:  int32(le.Uint32(rec[4:])),
		Size:  mgl32.Vec3{f(8), f(12), f(16)},
		Pos:   mgl32.Vec3{f(20), f(24), f(28)},
		Quat:  mgl32.Quat{W: f(32), V: mgl32.Vec3{f(36), f(40), f(44)}},
		RGBA:  mgl32.Vec4{f(48), f(52), f(56), f(60)},
	}
	if g.Quat.Len() == 0 {
		g.Quat = mgl32.QuatIdent()
	}
	return g, nil
}
