package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Plane stores the normal vector and offset of a plane equation, the points
// composing it and the keys of the voxels entirely included in the plane.
type Plane struct {
	Normal    r3.Vector
	Center    r3.Vector
	Offset    float64
	Points    []r3.Vector
	VoxelKeys []VoxelCoords
}

// Equation returns the coefficients of the plane equation as a 4-slice of
// floats.
func (p *Plane) Equation() [4]float64 {
	return [4]float64{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Offset}
}

// Distance computes the distance of a point to the plane.
func (p *Plane) Distance(pt r3.Vector) float64 {
	norm := p.Normal.Norm()
	if norm == 0 {
		return 0
	}
	return (p.Normal.Dot(pt) + p.Offset) / norm
}

// Intersect returns the intersection of the plane with the line defined by
// the two given points, nil if the line is parallel to the plane.
func (p *Plane) Intersect(p0, p1 r3.Vector) *r3.Vector {
	line := p1.Sub(p0)
	parallel := p.Normal.Dot(line)
	if math.Abs(parallel) < 1e-10 {
		return nil
	}
	t := -(p.Normal.Dot(p0) + p.Offset) / parallel
	result := p0.Add(line.Mul(t))
	return &result
}
