package densemap

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// Defaults for the fusion policy knobs.
const (
	// DefaultResolution is the deduplication voxel size in millimeters.
	DefaultResolution = 50.0

	// DefaultMinCosForNormalAssociation is the minimum cosine between two
	// normals for their points to fuse into the same surface element.
	DefaultMinCosForNormalAssociation = 0.7

	// maxUnstableAge is how many fusion passes an unstable point may go
	// without corroboration before removal discards it.
	maxUnstableAge = 3

	// consumedInputMemory bounds how many consumed input IDs are remembered
	// for the at-most-once handoff check.
	consumedInputMemory = 256
)

var (
	errEmptyInput        = errors.New("keyframe input has no points")
	errAttributeMismatch = errors.New("keyframe attribute slices do not match point count")
)

// Store is the contract between a SLAM front end and a dense map
// implementation: hand off keyframe observations, trigger fusion passes and
// take consistent snapshots. *Map is the voxel-fusion implementation;
// alternative fusion strategies can substitute their own.
type Store interface {
	InsertData(input *KeyframeInput)
	UpdateMap() int
	GetMap() pointcloud.PointCloud
	GetMapWithTimeout(timeout time.Duration, copyUnstable bool) (pointcloud.PointCloud, pointcloud.PointCloud, bool)
	GetMapTimestamp() uint64
	HasChanged() bool
	Clear()
	OnMapChange()
}

var _ Store = (*Map)(nil)

// DeformStrategy re-transforms already-fused points after the upstream
// sparse map is corrected, e.g. by a loop closure, instead of discarding
// them. The clouds are mutated in place under the map lock.
type DeformStrategy interface {
	Deform(stable, unstable pointcloud.PointCloud) error
}

// Map is a concurrency-controlled accumulation of keyframe observations
// into a world-frame point cloud. One writer role runs InsertData/UpdateMap;
// any number of readers take deep-copy snapshots through GetMap*.
//
// Configuration setters are expected to be called only when no fusion pass
// is in flight; they are not independently synchronized.
type Map struct {
	mu     *timedMutex
	logger golog.Logger
	clock  clock.Clock

	resolution                 float64
	downsampleStep             int
	removeUnstablePoints       bool
	performSegmentation        bool
	performCarving             bool
	minCosForNormalAssociation float64
	resetOnSparseMapChange     bool
	deformOnSparseMapChange    bool

	cameraModel *CameraModel
	deform      DeformStrategy

	// All fields below are guarded by mu.
	stable        pointcloud.PointCloud
	unstable      pointcloud.PointCloud
	index         *voxelIndex
	unstableIndex *voxelIndex
	pending       []*KeyframeInput
	consumed      map[uuid.UUID]struct{}
	consumedOrder []uuid.UUID
	pass          int
	timestamp     uint64
	dirty         bool
	nextLabel     int
}

// NewMap returns an empty map fusing at the given voxel resolution in
// millimeters. A non-positive resolution selects the default.
func NewMap(resolution float64, logger golog.Logger) *Map {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Map{
		mu:                         newTimedMutex(),
		logger:                     logger,
		clock:                      clock.New(),
		resolution:                 resolution,
		downsampleStep:             1,
		minCosForNormalAssociation: DefaultMinCosForNormalAssociation,
		stable:                     pointcloud.New(),
		unstable:                   pointcloud.New(),
		index:                      newVoxelIndex(resolution),
		unstableIndex:              newVoxelIndex(resolution),
		consumed:                   make(map[uuid.UUID]struct{}),
		nextLabel:                  1,
	}
}

// SetClock replaces the wall clock used for load/reset timestamps. Intended
// for tests with a mock clock.
func (m *Map) SetClock(c clock.Clock) {
	m.clock = c
}

// SetDepthCameraModel installs intrinsics used to discard out-of-range
// points before fusion. Nil accepts all finite points.
func (m *Map) SetDepthCameraModel(c *CameraModel) {
	m.cameraModel = c
}

// SetDeformStrategy installs the re-transform behavior used by OnMapChange
// when cloud deformation is configured instead of a reset.
func (m *Map) SetDeformStrategy(d DeformStrategy) {
	m.deform = d
}

// InsertData queues one keyframe input for the next fusion pass. Malformed
// input, a non-rigid pose, an empty point set, mismatched attribute slices
// or a repeated handoff of the same input, is silently dropped with no map
// mutation.
func (m *Map) InsertData(input *KeyframeInput) {
	if input == nil {
		return
	}
	if err := input.validate(); err != nil {
		m.logger.Debugw("dropping malformed keyframe input", "id", input.ID, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumed[input.ID]; ok {
		m.logger.Debugw("dropping repeated keyframe input", "id", input.ID)
		return
	}
	m.rememberConsumedLocked(input.ID)
	m.pending = append(m.pending, input)
}

func (m *Map) rememberConsumedLocked(id uuid.UUID) {
	m.consumed[id] = struct{}{}
	m.consumedOrder = append(m.consumedOrder, id)
	if len(m.consumedOrder) > consumedInputMemory {
		delete(m.consumed, m.consumedOrder[0])
		m.consumedOrder = m.consumedOrder[1:]
	}
}

// UpdateMap runs one fusion pass over all queued inputs and returns the
// number of points added, merged or carved. It is safe to call with nothing
// queued, in which case it returns 0. Insertion and fusion serialize against
// each other on the map lock, so a snapshot can never observe a partially
// fused cloud.
func (m *Map) UpdateMap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return 0
	}

	total := 0
	for _, input := range m.pending {
		total += m.fuseInputLocked(input)
		// out-of-order input is accepted but never moves the clock backward
		if input.Timestamp > m.timestamp {
			m.timestamp = input.Timestamp
		}
	}
	m.pending = nil
	if total > 0 {
		m.dirty = true
	}
	m.logger.Debugw("fusion pass complete",
		"pass", m.pass, "fused", total,
		"stable", m.index.size(), "unstable", m.unstableIndex.size())
	return total
}

// GetMap returns a deep copy of the stable cloud, blocking until the lock
// is free.
func (m *Map) GetMap() pointcloud.PointCloud {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pointcloud.CloneCloud(m.stable)
}

// GetMapWithTimeout returns deep copies of the stable cloud and, when
// copyUnstable is set, the unstable cloud. If the lock cannot be acquired
// within the timeout it returns nil clouds and false: the map is temporarily
// unavailable, not failed, and the caller should skip or retry.
func (m *Map) GetMapWithTimeout(timeout time.Duration, copyUnstable bool) (pointcloud.PointCloud, pointcloud.PointCloud, bool) {
	if !m.mu.TryLockWithTimeout(timeout) {
		return nil, nil, false
	}
	defer m.mu.Unlock()
	stable := pointcloud.CloneCloud(m.stable)
	var unstable pointcloud.PointCloud
	if copyUnstable {
		unstable = pointcloud.CloneCloud(m.unstable)
	}
	return stable, unstable, true
}

// GetMapTimestamp returns the logical clock of the last successful fusion,
// letting readers detect staleness without copying the cloud.
func (m *Map) GetMapTimestamp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timestamp
}

// HasChanged reports whether the map changed since the last call, clearing
// the flag. Intended for renderers polling for updates.
func (m *Map) HasChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.dirty
	m.dirty = false
	return changed
}

// Size returns the number of points in the stable cloud.
func (m *Map) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable.Size()
}

// UnstableSize returns the number of provisionally inserted points.
func (m *Map) UnstableSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unstable.Size()
}

// Clear empties both clouds, drops queued input and resets the timestamp.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// ResetPointCloud is an alias of Clear kept for strategies that distinguish
// a full engine reset from a cloud-only reset.
func (m *Map) ResetPointCloud() {
	m.Clear()
}

func (m *Map) clearLocked() {
	m.stable = pointcloud.New()
	m.unstable = pointcloud.New()
	m.index = newVoxelIndex(m.resolution)
	m.unstableIndex = newVoxelIndex(m.resolution)
	m.pending = nil
	m.pass = 0
	m.timestamp = 0
	m.dirty = true
	m.nextLabel = 1
}

// OnMapChange reacts to an upstream sparse map correction such as a loop
// closure. Depending on configuration the map is either fully reset, or the
// installed DeformStrategy re-transforms the existing points; with neither
// configured the signal is ignored.
func (m *Map) OnMapChange() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.resetOnSparseMapChange:
		m.logger.Debug("sparse map change, resetting dense map")
		m.clearLocked()
	case m.deformOnSparseMapChange:
		if m.deform == nil {
			m.logger.Warn("cloud deformation requested but no deform strategy installed")
			return
		}
		if err := m.deform.Deform(m.stable, m.unstable); err != nil {
			m.logger.Errorw("cloud deformation failed", "error", err)
			return
		}
		m.index.rebuild(m.stable, m.pass)
		m.unstableIndex.rebuild(m.unstable, m.pass)
		m.dirty = true
	}
}

// ComputeNormals estimates a surface normal and curvature for every stable
// point from its voxel neighborhood, in place.
func (m *Map) ComputeNormals() {
	m.mu.Lock()
	defer m.mu.Unlock()
	computeCloudNormals(m.stable, m.resolution*3)
}

// InvertColors inverts the color of every colored stable point in place.
func (m *Map) InvertColors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	pointcloud.InvertColors(m.stable)
	m.dirty = true
}

func (m *Map) nowMicroseconds() uint64 {
	return uint64(m.clock.Now().UnixNano() / 1000)
}

func finiteVector(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}
