package densemap

import (
	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// normalAgreementCos gates triangle emission: a face whose corner normals
// disagree more than this cosine spans unrelated surfaces and is dropped.
const normalAgreementCos = 0.0

// triangulateLocked builds a triangle mesh over the stable cloud by
// connecting representative points of adjacent occupied voxels. Each
// occupied voxel contributes one vertex. For every pair of grid axes, four
// mutually adjacent occupied voxels yield a quad split into two triangles;
// three yield a single triangle.
func (m *Map) triangulateLocked() (*pointcloud.Mesh, pointcloud.MetaData) {
	mesh := &pointcloud.Mesh{}
	meta := pointcloud.NewMetaData()

	vertexID := make(map[pointcloud.VoxelCoords]uint32, len(m.index.leaves))
	for key, leaf := range m.index.leaves {
		if len(leaf) == 0 {
			continue
		}
		occ := leaf[0]
		d, ok := m.stable.At(occ.pos.X, occ.pos.Y, occ.pos.Z)
		if !ok {
			continue
		}
		vertexID[key] = uint32(len(mesh.Vertices))
		mesh.Vertices = append(mesh.Vertices, pointcloud.PointAndData{P: occ.pos, D: d})
		meta.Merge(occ.pos, d)
	}

	// axis pairs spanning the three grid planes
	spans := [3][2]pointcloud.VoxelCoords{
		{{I: 1}, {J: 1}},
		{{J: 1}, {K: 1}},
		{{I: 1}, {K: 1}},
	}
	for key, v0 := range vertexID {
		for _, span := range spans {
			da, db := span[0], span[1]
			ka := pointcloud.VoxelCoords{I: key.I + da.I, J: key.J + da.J, K: key.K + da.K}
			kb := pointcloud.VoxelCoords{I: key.I + db.I, J: key.J + db.J, K: key.K + db.K}
			kab := pointcloud.VoxelCoords{I: ka.I + db.I, J: ka.J + db.J, K: ka.K + db.K}

			va, aok := vertexID[ka]
			vb, bok := vertexID[kb]
			vab, abok := vertexID[kab]

			switch {
			case aok && bok && abok:
				m.emitTriangle(mesh, v0, va, vab)
				m.emitTriangle(mesh, v0, vab, vb)
			case aok && bok:
				m.emitTriangle(mesh, v0, va, vb)
			}
		}
	}
	return mesh, meta
}

func (m *Map) emitTriangle(mesh *pointcloud.Mesh, a, b, c uint32) {
	if !normalsAgree(mesh.Vertices[a].D, mesh.Vertices[b].D, mesh.Vertices[c].D) {
		return
	}
	mesh.Faces = append(mesh.Faces, [3]uint32{a, b, c})
}

func normalsAgree(ds ...pointcloud.Data) bool {
	for i, d1 := range ds {
		if d1 == nil || !d1.HasNormal() {
			continue
		}
		for _, d2 := range ds[i+1:] {
			if d2 == nil || !d2.HasNormal() {
				continue
			}
			if d1.Normal().Dot(d2.Normal()) < normalAgreementCos {
				return false
			}
		}
	}
	return true
}
