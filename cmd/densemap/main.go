// Package main provides a command line tool that fuses a sequence of
// per-keyframe point clouds into a dense map and writes the result out as
// a PCD file and, optionally, a triangle mesh.
package main

import (
	"bufio"
	"context"
	"flag"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/dense-mapping/densemap"
	"github.com/viamrobotics/dense-mapping/pointcloud"
)

var logger = golog.NewDevelopmentLogger("densemap")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	framesDir := flags.String("frames", "", "directory of per-keyframe PCD files, fused in name order")
	posesFile := flags.String("poses", "", "file with one camera pose per keyframe, 16 numbers per line, row-major 4x4")
	resolution := flags.Float64("resolution", densemap.DefaultResolution, "voxel edge length in millimeters")
	downsample := flags.Int("downsample", 1, "keep every Nth input point")
	carve := flags.Bool("carve", false, "carve free space along observation rays")
	segment := flags.Bool("segment", false, "run incremental plane segmentation")
	outMap := flags.String("out", "map.pcd", "output map file")
	outMesh := flags.String("mesh", "", "optional output triangle mesh file (PLY)")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *framesDir == "" || *posesFile == "" {
		flags.Usage()
		return errors.New("both -frames and -poses are required")
	}

	poses, err := readPoses(*posesFile)
	if err != nil {
		return err
	}
	frames, err := listPCDFiles(*framesDir)
	if err != nil {
		return err
	}
	if len(frames) != len(poses) {
		return errors.Errorf("have %d frames but %d poses", len(frames), len(poses))
	}

	m := densemap.NewMap(*resolution, logger)
	m.SetIntProperty(densemap.DownsampleStep, *downsample)
	m.SetBoolProperty(densemap.PerformCarving, *carve)
	m.SetBoolProperty(densemap.PerformSegmentation, *segment)

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		cloud, err := pointcloud.NewFromPCDFile(frame)
		if err != nil {
			return errors.Wrapf(err, "reading frame %q", frame)
		}
		m.InsertData(inputFromCloud(cloud, poses[i], uint64(i+1)))
		fused := m.UpdateMap()
		logger.Infow("fused keyframe", "frame", filepath.Base(frame), "points", fused, "map_size", m.Size())
	}

	if err := m.SaveMap(*outMap); err != nil {
		return err
	}
	if *outMesh != "" {
		if err := m.SaveTriangleMeshMap(*outMesh, true); err != nil {
			return err
		}
	}
	return nil
}

func inputFromCloud(cloud pointcloud.PointCloud, pose *mat.Dense, timestamp uint64) *densemap.KeyframeInput {
	meta := cloud.MetaData()
	points := make([]r3.Vector, 0, cloud.Size())
	var colors []color.NRGBA
	var normals []r3.Vector
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		points = append(points, p)
		if meta.HasColor {
			c := color.NRGBA{A: 255}
			if d != nil && d.HasColor() {
				c.R, c.G, c.B = d.RGB255()
			}
			colors = append(colors, c)
		}
		if meta.HasNormal {
			var n r3.Vector
			if d != nil && d.HasNormal() {
				n = d.Normal()
			}
			normals = append(normals, n)
		}
		return true
	})
	in := densemap.NewKeyframeInput(pose, points, timestamp)
	in.Colors = colors
	in.Normals = normals
	return in
}

func readPoses(fn string) ([]*mat.Dense, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var poses []*mat.Dense
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 16 {
			return nil, errors.Errorf("pose line %d: want 16 numbers, got %d", len(poses)+1, len(fields))
		}
		vals := make([]float64, 16)
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "pose line %d", len(poses)+1)
			}
			vals[i] = v
		}
		poses = append(poses, mat.NewDense(4, 4, vals))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return poses, nil
}

func listPCDFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pcd") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
