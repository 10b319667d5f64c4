package densemap

import (
	"github.com/golang/geo/r3"
)

// CameraModel is the pinhole intrinsics and valid depth range of the depth
// camera feeding the engine. When set on a Map, camera-frame points outside
// the depth range or projecting outside the image are discarded before
// fusion. The zero value accepts all finite points.
type CameraModel struct {
	Fx, Fy float64
	Cx, Cy float64

	Width, Height int

	// MinDepth and MaxDepth bound the valid depth range in millimeters.
	// Zero means unbounded on that side.
	MinDepth, MaxDepth float64
}

// ValidPoint reports whether a camera-frame point is inside the camera's
// valid viewing volume. Depth is the +Z coordinate.
func (c *CameraModel) ValidPoint(p r3.Vector) bool {
	if p.Z <= 0 {
		return false
	}
	if c.MinDepth > 0 && p.Z < c.MinDepth {
		return false
	}
	if c.MaxDepth > 0 && p.Z > c.MaxDepth {
		return false
	}
	if c.Fx != 0 && c.Width > 0 {
		u := c.Fx*p.X/p.Z + c.Cx
		if u < 0 || u >= float64(c.Width) {
			return false
		}
	}
	if c.Fy != 0 && c.Height > 0 {
		v := c.Fy*p.Y/p.Z + c.Cy
		if v < 0 || v >= float64(c.Height) {
			return false
		}
	}
	return true
}
