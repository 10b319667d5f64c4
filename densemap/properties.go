package densemap

// Property names a tunable knob on a Map. Every property can be set while
// the map is live; changes apply from the next fusion pass.
type Property string

const (
	// DownsampleStep is the stride applied to incoming keyframe points.
	DownsampleStep = Property("downsample_step")
	// RemoveUnstablePoints toggles age-based pruning of the unstable cloud.
	RemoveUnstablePoints = Property("remove_unstable_points")
	// PerformSegmentation toggles incremental plane segmentation.
	PerformSegmentation = Property("perform_segmentation")
	// PerformCarving toggles free-space carving along observation rays.
	PerformCarving = Property("perform_carving")
	// Resolution is the voxel edge length in millimeters.
	Resolution = Property("resolution")
	// MinCosNormalAssociation is the minimum normal cosine for two
	// observations to merge into one point.
	MinCosNormalAssociation = Property("min_cos_normal_association")
	// ResetOnSparseMapChange makes a sparse-map change event rebuild the
	// dense map from scratch.
	ResetOnSparseMapChange = Property("reset_on_sparse_map_change")
	// CloudDeformationOnSparseMapChange makes a sparse-map change event
	// run the configured deformation strategy instead of a reset.
	CloudDeformationOnSparseMapChange = Property("cloud_deformation_on_sparse_map_change")
)

// SetIntProperty sets an integer-valued property, reporting whether the
// name was recognized.
func (m *Map) SetIntProperty(name Property, val int) bool {
	switch name {
	case DownsampleStep:
		m.mu.Lock()
		defer m.mu.Unlock()
		if val < 1 {
			val = 1
		}
		m.downsampleStep = val
		return true
	default:
		return false
	}
}

// SetBoolProperty sets a boolean-valued property, reporting whether the
// name was recognized.
func (m *Map) SetBoolProperty(name Property, val bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case RemoveUnstablePoints:
		m.removeUnstablePoints = val
	case PerformSegmentation:
		m.performSegmentation = val
	case PerformCarving:
		m.performCarving = val
	case ResetOnSparseMapChange:
		m.resetOnSparseMapChange = val
	case CloudDeformationOnSparseMapChange:
		m.deformOnSparseMapChange = val
	default:
		return false
	}
	return true
}

// SetFloatProperty sets a float-valued property, reporting whether the
// name was recognized.
func (m *Map) SetFloatProperty(name Property, val float64) bool {
	switch name {
	case Resolution:
		return m.SetResolution(val)
	case MinCosNormalAssociation:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.minCosForNormalAssociation = val
		return true
	default:
		return false
	}
}

// SetResolution changes the voxel edge length and rebuilds both spatial
// indexes at the new size. Existing points keep their positions; only
// voxel membership changes.
func (m *Map) SetResolution(resolution float64) bool {
	if resolution <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolution = resolution
	m.index = newVoxelIndex(resolution)
	m.index.rebuild(m.stable, m.pass)
	m.unstableIndex = newVoxelIndex(resolution)
	m.unstableIndex.rebuild(m.unstable, m.pass)
	return true
}

// DownsampleStepValue returns the current decimation stride.
func (m *Map) DownsampleStepValue() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downsampleStep
}

// ResolutionValue returns the current voxel edge length in millimeters.
func (m *Map) ResolutionValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolution
}
