package densemap

import (
	"image/color"

	"github.com/golang/geo/r3"

	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// candidate is one world-frame point going through association.
type candidate struct {
	pos r3.Vector

	normal    r3.Vector
	hasNormal bool

	color    color.NRGBA
	hasColor bool

	label    int
	hasLabel bool
}

func (c *candidate) data() pointcloud.Data {
	d := pointcloud.NewBasicData()
	if c.hasColor {
		d.SetColor(c.color)
	}
	if c.hasNormal {
		d.SetNormal(c.normal)
	}
	if c.hasLabel {
		d.SetValue(c.label)
	}
	return d
}

// fuseInputLocked runs one fusion pass over a single keyframe input and
// returns the number of points added, merged or carved.
func (m *Map) fuseInputLocked(in *KeyframeInput) int {
	m.pass++
	count := 0

	step := m.downsampleStep
	if step < 1 {
		step = 1
	}
	origin := in.pose.Point()

	var touched map[pointcloud.VoxelCoords]struct{}
	if m.performSegmentation {
		touched = make(map[pointcloud.VoxelCoords]struct{})
	}

	// stride decimation happens before any spatial lookup to bound index
	// growth
	for i := 0; i < len(in.Points); i += step {
		p := in.Points[i]
		if !finiteVector(p) {
			continue
		}
		if m.cameraModel != nil && !m.cameraModel.ValidPoint(p) {
			continue
		}

		cand := candidate{pos: in.pose.TransformPoint(p)}
		if len(in.Normals) != 0 {
			cand.normal = in.pose.TransformNormal(in.Normals[i])
			cand.hasNormal = true
		}
		if len(in.Colors) != 0 {
			cand.color = in.Colors[i]
			cand.hasColor = true
		}
		if len(in.Labels) != 0 {
			cand.label = in.Labels[i]
			cand.hasLabel = true
		}

		if m.performCarving {
			count += m.carveRayLocked(origin, cand.pos)
		}

		fused, err := m.fusePointLocked(&cand)
		if err != nil {
			m.logger.Debugw("skipping point", "position", cand.pos, "error", err)
			continue
		}
		if fused {
			count++
		}
		if touched != nil {
			touched[m.index.key(cand.pos)] = struct{}{}
		}
	}

	if m.removeUnstablePoints {
		m.pruneUnstableLocked()
	}
	if len(touched) > 0 {
		m.segmentRegionLocked(touched)
	}
	return count
}

// fusePointLocked decides whether the candidate corroborates an existing
// stable point, promotes an unstable one, or becomes a new entry.
func (m *Map) fusePointLocked(cand *candidate) (bool, error) {
	if occ := m.findAssociableLocked(m.index, m.stable, cand); occ != nil {
		return true, m.mergeLocked(occ, cand)
	}
	if occ := m.findAssociableLocked(m.unstableIndex, m.unstable, cand); occ != nil {
		return true, m.promoteLocked(occ, cand)
	}

	data := cand.data()
	if m.requiresCorroboration() {
		if err := m.unstable.Set(cand.pos, data); err != nil {
			return false, err
		}
		m.unstableIndex.insert(cand.pos, 1, m.pass)
	} else {
		if err := m.stable.Set(cand.pos, data); err != nil {
			return false, err
		}
		m.index.insert(cand.pos, 1, m.pass)
	}
	return true, nil
}

// findAssociableLocked searches the candidate's voxel neighborhood in an
// index for an occupant the candidate may fuse with. The candidate's own
// voxel is searched ungated; occupants of the 26 surrounding voxels must
// additionally be within the resolution distance.
func (m *Map) findAssociableLocked(idx *voxelIndex, cloud pointcloud.PointCloud, cand *candidate) *occupant {
	key := idx.key(cand.pos)
	for _, occ := range idx.occupants(key) {
		if m.canAssociateLocked(cloud, occ, cand) {
			return occ
		}
	}
	for di := int64(-1); di <= 1; di++ {
		for dj := int64(-1); dj <= 1; dj++ {
			for dk := int64(-1); dk <= 1; dk++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				nb := pointcloud.VoxelCoords{I: key.I + di, J: key.J + dj, K: key.K + dk}
				for _, occ := range idx.occupants(nb) {
					if occ.pos.Sub(cand.pos).Norm() <= m.resolution && m.canAssociateLocked(cloud, occ, cand) {
						return occ
					}
				}
			}
		}
	}
	return nil
}

// requiresCorroboration reports whether newly observed points must first
// prove themselves in the unstable cloud before entering the map.
func (m *Map) requiresCorroboration() bool {
	return m.performSegmentation || m.performCarving
}

// canAssociateLocked applies the association gates: normal agreement above
// the configured cosine, and segment labels, which are advisory, biasing
// association so deliberately distinct segments stay distinct entries even
// within one voxel.
func (m *Map) canAssociateLocked(cloud pointcloud.PointCloud, occ *occupant, cand *candidate) bool {
	d, ok := cloud.At(occ.pos.X, occ.pos.Y, occ.pos.Z)
	if !ok {
		return false
	}
	if d != nil && cand.hasNormal && d.HasNormal() && m.minCosForNormalAssociation > 0 {
		if cand.normal.Dot(d.Normal()) < m.minCosForNormalAssociation {
			return false
		}
	}
	if d != nil && cand.hasLabel && d.HasValue() && cand.label != d.Value() {
		return false
	}
	return true
}

// mergeLocked folds the candidate into an existing stable occupant as a
// running weighted average. No new entry is created.
func (m *Map) mergeLocked(occ *occupant, cand *candidate) error {
	d, ok := m.stable.At(occ.pos.X, occ.pos.Y, occ.pos.Z)
	if !ok {
		return nil
	}
	var orig pointcloud.Data
	if d != nil {
		orig = d.Clone()
	}
	newPos := mergedPosition(occ, cand)
	d = mergeData(d, occ.weight, cand)

	m.stable.Unset(occ.pos.X, occ.pos.Y, occ.pos.Z)
	if err := m.stable.Set(newPos, d); err != nil {
		// restore the prior entry, unmerged, so the pass leaves no hole behind
		//nolint:errcheck
		m.stable.Set(occ.pos, orig)
		return err
	}
	m.index.move(occ, newPos)
	occ.weight++
	occ.lastPass = m.pass
	return nil
}

// promoteLocked moves a corroborated unstable occupant into the stable
// cloud, folding in the candidate.
func (m *Map) promoteLocked(occ *occupant, cand *candidate) error {
	d, ok := m.unstable.At(occ.pos.X, occ.pos.Y, occ.pos.Z)
	if !ok {
		return nil
	}
	newPos := mergedPosition(occ, cand)
	d = mergeData(d, occ.weight, cand)

	if err := m.stable.Set(newPos, d); err != nil {
		return err
	}
	m.unstable.Unset(occ.pos.X, occ.pos.Y, occ.pos.Z)
	m.unstableIndex.remove(occ)
	m.index.insert(newPos, occ.weight+1, m.pass)
	return nil
}

func mergedPosition(occ *occupant, cand *candidate) r3.Vector {
	w := float64(occ.weight)
	return occ.pos.Mul(w / (w + 1)).Add(cand.pos.Mul(1 / (w + 1)))
}

func mergeData(d pointcloud.Data, weight int, cand *candidate) pointcloud.Data {
	if d == nil {
		return cand.data()
	}
	w := float64(weight)
	if cand.hasColor {
		if d.HasColor() {
			r, g, b := d.RGB255()
			d.SetColor(color.NRGBA{
				R: mergeChannel(r, cand.color.R, w),
				G: mergeChannel(g, cand.color.G, w),
				B: mergeChannel(b, cand.color.B, w),
				A: 255,
			})
		} else {
			d.SetColor(cand.color)
		}
	}
	if cand.hasNormal {
		if d.HasNormal() {
			n := d.Normal().Mul(w / (w + 1)).Add(cand.normal.Mul(1 / (w + 1)))
			if n.Norm() > 0 {
				d.SetNormal(n.Normalize())
			}
		} else {
			d.SetNormal(cand.normal)
		}
	}
	if cand.hasLabel && !d.HasValue() {
		d.SetValue(cand.label)
	}
	return d
}

func mergeChannel(old, new uint8, w float64) uint8 {
	return uint8((float64(old)*w + float64(new)) / (w + 1))
}

// pruneUnstableLocked drops unstable entries that survived more than a
// bounded number of passes without promotion.
func (m *Map) pruneUnstableLocked() {
	var stale []*occupant
	for _, leaf := range m.unstableIndex.leaves {
		for _, occ := range leaf {
			if m.pass-occ.lastPass > maxUnstableAge {
				stale = append(stale, occ)
			}
		}
	}
	for _, occ := range stale {
		m.unstable.Unset(occ.pos.X, occ.pos.Y, occ.pos.Z)
		m.unstableIndex.remove(occ)
	}
}

// segmentRegionLocked reruns plane segmentation over the voxels touched by
// a fusion pass and their neighborhood, relabeling the affected stable
// points. Labels are unique across passes.
func (m *Map) segmentRegionLocked(touched map[pointcloud.VoxelCoords]struct{}) {
	region := pointcloud.NewUnordered()
	for key := range touched {
		for di := int64(-1); di <= 1; di++ {
			for dj := int64(-1); dj <= 1; dj++ {
				for dk := int64(-1); dk <= 1; dk++ {
					nb := pointcloud.VoxelCoords{I: key.I + di, J: key.J + dj, K: key.K + dk}
					for _, occ := range m.index.occupants(nb) {
						//nolint:errcheck
						region.Set(occ.pos, nil)
					}
				}
			}
		}
	}
	if region.Size() == 0 {
		return
	}

	vg := pointcloud.NewVoxelGridFromPointCloud(region, m.resolution*3, 1.0)
	vg.SegmentPlanesRegionGrowing(0.5, 30, 0.3, m.resolution)
	if vg.MaxLabel() == 0 {
		return
	}

	for _, vox := range vg.Voxels {
		if vox.Label == 0 {
			continue
		}
		for _, pt := range vox.Points {
			if d, ok := m.stable.At(pt.X, pt.Y, pt.Z); ok && d != nil {
				d.SetValue(m.nextLabel + vox.Label - 1)
			}
		}
	}
	m.nextLabel += vg.MaxLabel()
}
