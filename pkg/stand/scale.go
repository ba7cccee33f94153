package stand

import "math"

// ScaleOptions sizes a stand relative to the physical size of its image.
type ScaleOptions struct {
	// Factor multiplies the image size. Zero means 1.
	Factor float64 `json:"factor"`

	// Stretch follows the image's aspect ratio instead of scaling uniformly.
	Stretch bool `json:"stretch"`
}

// ContentScale returns the stand scale for an image of the given size.
// ok is false when the size is unknown.
func (o ScaleOptions) ContentScale(size Vec2) (scale Vec3, ok bool) {
	if size.Magnitude() <= 0 {
		return Vec3{}, false
	}

	f := o.Factor
	if f == 0 {
		f = 1
	}

	longest := math.Max(size.X, size.Y) * f
	if !o.Stretch {
		return Vec3{X: longest, Y: longest, Z: longest}, true
	}
	return Vec3{X: size.X * f, Y: size.Y * f, Z: longest}, true
}
