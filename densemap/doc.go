// Package densemap incrementally fuses per-keyframe partial point clouds
// produced by a visual SLAM front end into one persistent world-frame map,
// while serving consistent snapshots of that map to readers running on a
// different schedule than the fusion writer.
//
// The map keeps two clouds: a stable cloud, the authoritative map whose
// points are pairwise non-duplicate at the configured voxel resolution, and
// an unstable cloud of provisionally inserted points awaiting corroboration
// by later observations. A voxel index over the stable cloud drives spatial
// association, deduplication, free-space carving and triangulation.
package densemap
