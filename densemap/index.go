package densemap

import (
	"github.com/golang/geo/r3"

	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// occupant is one fused surface element tracked by the voxel index: the
// current position of the point it deduplicates into, how many observations
// were merged into it, and the fusion pass that last corroborated it.
type occupant struct {
	pos      r3.Vector
	weight   int
	lastPass int
}

// voxelIndex partitions world space into cubes of side resolution, keyed on
// the zero origin so voxel coordinates stay stable as the map grows. Each
// leaf usually holds one occupant; leaves keep distinct occupants when
// association rejects a merge, preserving thin or adjacent surfaces that
// fall into the same cube.
type voxelIndex struct {
	resolution float64
	leaves     map[pointcloud.VoxelCoords][]*occupant
}

func newVoxelIndex(resolution float64) *voxelIndex {
	return &voxelIndex{
		resolution: resolution,
		leaves:     make(map[pointcloud.VoxelCoords][]*occupant),
	}
}

func (vi *voxelIndex) key(p r3.Vector) pointcloud.VoxelCoords {
	return pointcloud.GetVoxelCoordinates(p, r3.Vector{}, vi.resolution)
}

func (vi *voxelIndex) occupants(c pointcloud.VoxelCoords) []*occupant {
	return vi.leaves[c]
}

func (vi *voxelIndex) insert(p r3.Vector, weight, pass int) *occupant {
	occ := &occupant{pos: p, weight: weight, lastPass: pass}
	c := vi.key(p)
	vi.leaves[c] = append(vi.leaves[c], occ)
	return occ
}

func (vi *voxelIndex) remove(occ *occupant) {
	c := vi.key(occ.pos)
	leaf := vi.leaves[c]
	for i, o := range leaf {
		if o == occ {
			leaf[i] = leaf[len(leaf)-1]
			leaf = leaf[:len(leaf)-1]
			break
		}
	}
	if len(leaf) == 0 {
		delete(vi.leaves, c)
	} else {
		vi.leaves[c] = leaf
	}
}

// move updates the index after an occupant's position changed. Merged
// positions are convex combinations of points in the same voxel so the key
// rarely changes, but float rounding at voxel borders can push it over.
func (vi *voxelIndex) move(occ *occupant, newPos r3.Vector) {
	oldKey := vi.key(occ.pos)
	newKey := vi.key(newPos)
	if oldKey.IsEqual(newKey) {
		occ.pos = newPos
		return
	}
	vi.remove(occ)
	occ.pos = newPos
	vi.leaves[newKey] = append(vi.leaves[newKey], occ)
}

func (vi *voxelIndex) size() int {
	n := 0
	for _, leaf := range vi.leaves {
		n += len(leaf)
	}
	return n
}

func (vi *voxelIndex) clear() {
	vi.leaves = make(map[pointcloud.VoxelCoords][]*occupant)
}

// rebuild repopulates the index from a cloud, e.g. after a map load. Every
// point gets weight 1 and the given pass as its corroboration time.
func (vi *voxelIndex) rebuild(cloud pointcloud.PointCloud, pass int) {
	vi.clear()
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		vi.insert(p, 1, pass)
		return true
	})
}
