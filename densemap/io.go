package densemap

import (
	"github.com/pkg/errors"

	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// SaveMap writes the stable cloud to a binary PCD file. The map is locked
// for the duration of the write so the file is a consistent snapshot.
func (m *Map) SaveMap(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := pointcloud.SaveToPCDFile(m.stable, filename, pointcloud.PCDBinary); err != nil {
		return errors.Wrapf(err, "saving map to %q", filename)
	}
	m.logger.Infow("saved map", "file", filename, "points", m.stable.Size())
	return nil
}

// LoadMap replaces the map contents with a previously saved PCD file. The
// file is read before the map is locked; on a read error the current map
// is untouched. Loaded points enter the stable cloud directly and the map
// timestamp is set to the load time.
func (m *Map) LoadMap(filename string) error {
	cloud, err := pointcloud.NewFromPCDFile(filename)
	if err != nil {
		return errors.Wrapf(err, "loading map from %q", filename)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stable = cloud
	m.unstable = pointcloud.New()
	m.index = newVoxelIndex(m.resolution)
	m.index.rebuild(m.stable, m.pass)
	m.unstableIndex = newVoxelIndex(m.resolution)
	m.timestamp = m.nowMicroseconds()
	m.dirty = true
	m.logger.Infow("loaded map", "file", filename, "points", cloud.Size())
	return nil
}

// SaveTriangleMeshMap triangulates the stable cloud and writes the result
// as a PLY file, binary little-endian or ascii.
func (m *Map) SaveTriangleMeshMap(filename string, binary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mesh, meta := m.triangulateLocked()
	if err := pointcloud.SaveMeshToPLYFile(mesh, meta, filename, binary); err != nil {
		return errors.Wrapf(err, "saving mesh to %q", filename)
	}
	m.logger.Infow("saved mesh", "file", filename,
		"vertices", mesh.VertexCount(), "faces", mesh.FaceCount())
	return nil
}
