package densemap

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// carveStopMargin is how far short of the observed surface a carving ray
// stops, in voxels. Points within the margin are treated as the surface
// itself rather than free space.
const carveStopMargin = 2.0

// maxCarveSteps bounds a single ray walk so a degenerate observation can
// never stall a fusion pass.
const maxCarveSteps = 4096

// carveRayLocked removes stable points from the voxels crossed by the ray
// from the sensor origin to an observed surface point. Space the sensor saw
// through must be empty. Returns the number of points removed.
func (m *Map) carveRayLocked(origin, surface r3.Vector) int {
	dir := surface.Sub(origin)
	dist := dir.Norm()
	margin := carveStopMargin * m.resolution
	if dist <= margin {
		return 0
	}
	// parameterize the ray as origin + t*dir, t in [0, 1), and stop before
	// the surface voxel neighborhood
	tStop := 1 - margin/dist

	cur := m.index.key(origin)
	stepI, tMaxX, tDeltaX := rayAxisSetup(origin.X, dir.X, cur.I, m.resolution)
	stepJ, tMaxY, tDeltaY := rayAxisSetup(origin.Y, dir.Y, cur.J, m.resolution)
	stepK, tMaxZ, tDeltaZ := rayAxisSetup(origin.Z, dir.Z, cur.K, m.resolution)

	removed := 0
	t := 0.0
	for steps := 0; t < tStop && steps < maxCarveSteps; steps++ {
		removed += m.carveVoxelLocked(cur)

		switch {
		case tMaxX <= tMaxY && tMaxX <= tMaxZ:
			cur.I += stepI
			t = tMaxX
			tMaxX += tDeltaX
		case tMaxY <= tMaxZ:
			cur.J += stepJ
			t = tMaxY
			tMaxY += tDeltaY
		default:
			cur.K += stepK
			t = tMaxZ
			tMaxZ += tDeltaZ
		}
	}
	return removed
}

func (m *Map) carveVoxelLocked(c pointcloud.VoxelCoords) int {
	leaf := m.index.occupants(c)
	if len(leaf) == 0 {
		return 0
	}
	// copy, removal mutates the leaf
	stale := make([]*occupant, len(leaf))
	copy(stale, leaf)
	for _, occ := range stale {
		m.stable.Unset(occ.pos.X, occ.pos.Y, occ.pos.Z)
		m.index.remove(occ)
	}
	return len(stale)
}

// rayAxisSetup computes the per-axis traversal state: the step direction,
// the ray parameter at which the ray first leaves the current voxel along
// this axis, and the parameter increment per voxel crossed.
func rayAxisSetup(origin, dir float64, cell int64, resolution float64) (int64, float64, float64) {
	if dir > 0 {
		boundary := float64(cell+1) * resolution
		return 1, (boundary - origin) / dir, resolution / dir
	}
	if dir < 0 {
		boundary := float64(cell) * resolution
		return -1, (boundary - origin) / dir, -resolution / dir
	}
	return 0, math.Inf(1), math.Inf(1)
}
