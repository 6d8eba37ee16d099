package scene

import "github.com/go-gl/mathgl/mgl32"

// Shade approximates the lit colour of a surface with the given normal:
// ambient plus Lambertian directional light, clamped per channel.
func Shade(base Color, amb *AmbientLight, sun *DirectionalLight, normal mgl32.Vec3) Color {
	var r, g, b float32
	if amb != nil {
		r += amb.Color.R * amb.Intensity
		g += amb.Color.G * amb.Intensity
		b += amb.Color.B * amb.Intensity
	}
	if sun != nil && normal.Len() > 0 {
		lambert := normal.Normalize().Dot(sun.Direction().Mul(-1))
		if lambert > 0 {
			f := lambert * sun.Intensity
			r += sun.Color.R * f
			g += sun.Color.G * f
			b += sun.Color.B * f
		}
	}
	return Color{
		R: clamp01(base.R * r),
		G: clamp01(base.G * g),
		B: clamp01(base.B * b),
		A: base.A,
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
