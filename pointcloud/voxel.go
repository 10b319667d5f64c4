package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes voxel coordinates in VoxelGrid Axes.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	ptVoxel := pt.Sub(ptMin)
	return VoxelCoords{
		I: int64(math.Floor(ptVoxel.X / voxelSize)),
		J: int64(math.Floor(ptVoxel.Y / voxelSize)),
		K: int64(math.Floor(ptVoxel.Z / voxelSize)),
	}
}

// GetVoxelCenter computes the barycenter of the points in the slice of points.
func GetVoxelCenter(points []r3.Vector) r3.Vector {
	center := r3.Vector{}
	for _, pt := range points {
		center = center.Add(pt)
	}
	return center.Mul(1. / float64(len(points)))
}

// GetOffset computes the offset of the plane with given normal vector and
// a point in it.
func GetOffset(center, normal r3.Vector) float64 {
	return -normal.Dot(center)
}

// GetResidual computes the mean fitting error of points to a given plane.
func GetResidual(points []r3.Vector, plane Plane) float64 {
	dist := 0.
	for _, pt := range points {
		d := plane.Distance(pt)
		dist += d * d
	}
	dist /= float64(len(points))
	return math.Sqrt(dist)
}

// GetWeight computes weights for Region Growing segmentation.
func GetWeight(points []r3.Vector, lam, residual float64) float64 {
	nPoints := len(points)
	dR := math.Exp(-lam * residual)
	w := (1 - math.Exp(-float64(nPoints)/10.)) * dR
	return w
}

// estimatePlaneNormalFromPoints estimates the normal vector of the plane
// formed by the points in the given slice, as the eigenvector associated with
// the smallest singular value of the centered data matrix.
func estimatePlaneNormalFromPoints(points []r3.Vector) r3.Vector {
	center := GetVoxelCenter(points)
	data := make([]float64, 0, 3*len(points))
	for _, pt := range points {
		data = append(data, pt.X-center.X, pt.Y-center.Y, pt.Z-center.Z)
	}
	m := mat.NewDense(len(points), 3, data)
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThinV); !ok {
		return r3.Vector{}
	}
	var v mat.Dense
	svd.VTo(&v)
	normal := r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	return normal.Normalize()
}

// Voxel is the structure to store data relevant to Voxel operations in point
// clouds.
type Voxel struct {
	Key         VoxelCoords
	Label       int
	Points      []r3.Vector
	Center      r3.Vector
	Normal      r3.Vector
	Offset      float64
	Residual    float64
	Weight      float64
	PointLabels []int
}

// NewVoxel creates a pointer to a Voxel struct.
func NewVoxel(coords VoxelCoords) *Voxel {
	return &Voxel{
		Key:      coords,
		Points:   make([]r3.Vector, 0),
		Residual: 100000,
	}
}

// NewVoxelFromPoint creates a new voxel from a point.
func NewVoxelFromPoint(pt, ptMin r3.Vector, voxelSize float64) *Voxel {
	coords := GetVoxelCoordinates(pt, ptMin, voxelSize)
	return &Voxel{
		Key:    coords,
		Points: []r3.Vector{pt},
	}
}

// SetLabel sets the label of a voxel.
func (v1 *Voxel) SetLabel(label int) {
	v1.Label = label
}

// IsSmooth returns true if two voxels respect the smoothness constraint,
// false otherwise. angleTh is expressed in degrees.
func (v1 *Voxel) IsSmooth(v2 *Voxel, angleTh float64) bool {
	angle := math.Abs(v1.Normal.Dot(v2.Normal))
	angle = math.Abs(math.Acos(angle))
	angle = angle * 180 / math.Pi

	return angle < angleTh
}

// IsContinuous returns true if two voxels respect the continuity constraint,
// false otherwise. cosTh is in [0,1].
func (v1 *Voxel) IsContinuous(v2 *Voxel, cosTh float64) bool {
	v := v2.Center.Sub(v1.Center).Normalize()
	phi := math.Abs(v.Dot(v1.Normal))
	return phi < cosTh
}

// CanMerge returns true if two voxels can be added to the same connected
// component.
func (v1 *Voxel) CanMerge(v2 *Voxel, angleTh, cosTh float64) bool {
	return v1.IsSmooth(v2, angleTh) && v1.IsContinuous(v2, cosTh)
}

// ComputeCenter computes the barycenter of the points in the voxel.
func (v1 *Voxel) ComputeCenter() {
	v1.Center = GetVoxelCenter(v1.Points)
}

// GetPlane returns the plane struct with the voxel data.
func (v1 *Voxel) GetPlane() Plane {
	keys := make([]VoxelCoords, len(v1.Points))
	for i := range keys {
		keys[i] = v1.Key
	}
	return Plane{
		Normal:    v1.Normal,
		Center:    v1.Center,
		Offset:    v1.Offset,
		Points:    v1.Points,
		VoxelKeys: keys,
	}
}

// VoxelSlice is a slice that contains Voxels.
type VoxelSlice []*Voxel

// Swap for VoxelSlice sorting interface.
func (d VoxelSlice) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
}

// Len for VoxelSlice sorting interface.
func (d VoxelSlice) Len() int {
	return len(d)
}

// Less for VoxelSlice sorting interface.
func (d VoxelSlice) Less(i, j int) bool {
	return d[i].Weight < d[j].Weight
}

// ReverseVoxelSlice reverses a slice of voxels.
func ReverseVoxelSlice(s VoxelSlice) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// VoxelGrid contains the sparse grid of Voxels of a point cloud.
type VoxelGrid struct {
	Voxels    map[VoxelCoords]*Voxel
	maxLabel  int
	voxelSize float64
	ptMin     r3.Vector
}

// NewVoxelGrid returns a pointer to an empty VoxelGrid.
func NewVoxelGrid(voxelSize float64, ptMin r3.Vector) *VoxelGrid {
	return &VoxelGrid{
		Voxels:    make(map[VoxelCoords]*Voxel),
		voxelSize: voxelSize,
		ptMin:     ptMin,
	}
}

// VoxelSize returns the linear resolution of the grid.
func (vg *VoxelGrid) VoxelSize() float64 {
	return vg.voxelSize
}

// GetVoxelFromKey returns a pointer to a voxel from a VoxelCoords key.
func (vg *VoxelGrid) GetVoxelFromKey(coords VoxelCoords) *Voxel {
	return vg.Voxels[coords]
}

// GetAdjacentVoxels gets adjacent voxels in the grid in 26-connectivity.
func (vg *VoxelGrid) GetAdjacentVoxels(v *Voxel) []VoxelCoords {
	i, j, k := v.Key.I, v.Key.J, v.Key.K
	is := []int64{i - 1, i, i + 1}
	js := []int64{j - 1, j, j + 1}
	ks := []int64{k - 1, k, k + 1}
	neighborKeys := make([]VoxelCoords, 0)
	for _, i2 := range is {
		for _, j2 := range js {
			for _, k2 := range ks {
				vox := VoxelCoords{i2, j2, k2}
				_, ok := vg.Voxels[vox]
				// neighboring voxel is in the grid and is not the current one
				if ok && !v.Key.IsEqual(vox) {
					neighborKeys = append(neighborKeys, vox)
				}
			}
		}
	}
	return neighborKeys
}

// NewVoxelGridFromPointCloud creates and fills a VoxelGrid from a point cloud.
func NewVoxelGridFromPointCloud(pc PointCloud, voxelSize, lam float64) *VoxelGrid {
	ptMin := r3.Vector{
		X: pc.MetaData().MinX,
		Y: pc.MetaData().MinY,
		Z: pc.MetaData().MinZ,
	}
	voxelMap := NewVoxelGrid(voxelSize, ptMin)

	defaultResidual := 1.0

	pc.Iterate(0, 0, func(pt r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(pt, ptMin, voxelSize)
		vox, ok := voxelMap.Voxels[coords]
		if !ok {
			vox = NewVoxel(coords)
			vox.Residual = defaultResidual
			voxelMap.Voxels[coords] = vox
		}
		vox.Points = append(vox.Points, pt)
		return true
	})

	// All points are now assigned to a voxel in the voxel grid.
	// Compute voxel attributes.
	for k, vox := range voxelMap.Voxels {
		vox.Key = k
		vox.ComputeCenter()

		// below 5 points, normal and plane estimation are not relevant
		if len(vox.Points) > 5 {
			vox.Normal = estimatePlaneNormalFromPoints(vox.Points)
			vox.Offset = GetOffset(vox.Center, vox.Normal)
			vox.Residual = GetResidual(vox.Points, vox.GetPlane())
			vox.Weight = GetWeight(vox.Points, lam, vox.Residual)
		}
	}
	return voxelMap
}

// ConvertToPointCloudWithValue converts the voxel grid to a point cloud where
// the point values hold the voxel labels.
func (vg *VoxelGrid) ConvertToPointCloudWithValue() (PointCloud, error) {
	pc := New()
	for _, vox := range vg.Voxels {
		for i, pt := range vox.Points {
			label := vox.Label
			if vox.PointLabels != nil {
				label = vox.PointLabels[i]
			}
			if err := pc.Set(pt, NewValueData(label)); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
