package densemap

import (
	"github.com/viamrobotics/dense-mapping/pointcloud"
)

// computeCloudNormals estimates a normal for every point in the cloud by
// fitting a plane to its voxel neighborhood. Points in voxels too sparse
// for a fit keep whatever normal they already have.
func computeCloudNormals(cloud pointcloud.PointCloud, voxelSize float64) {
	vg := pointcloud.NewVoxelGridFromPointCloud(cloud, voxelSize, 1.0)
	for _, vox := range vg.Voxels {
		if vox.Normal.Norm() == 0 {
			continue
		}
		for _, pt := range vox.Points {
			d, ok := cloud.At(pt.X, pt.Y, pt.Z)
			if !ok {
				continue
			}
			if d == nil {
				//nolint:errcheck
				cloud.Set(pt, pointcloud.NewNormalData(vox.Normal).SetCurvature(vox.Residual))
				continue
			}
			d.SetNormal(vox.Normal)
			d.SetCurvature(vox.Residual)
		}
	}
}
