package pointcloud

import (
	"bytes"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func newTestMesh(t *testing.T) (*Mesh, MetaData) {
	t.Helper()
	mesh := &Mesh{}
	meta := NewMetaData()
	verts := []r3.Vector{
		{X: 0, Y: 0, Z: 1000},
		{X: 100, Y: 0, Z: 1000},
		{X: 0, Y: 100, Z: 1000},
		{X: 100, Y: 100, Z: 1000},
	}
	for i, v := range verts {
		d := NewColoredData(color.NRGBA{R: uint8(i * 50), A: 255})
		d.SetNormal(r3.Vector{Z: 1})
		mesh.Vertices = append(mesh.Vertices, PointAndData{P: v, D: d})
		meta.Merge(v, d)
	}
	mesh.Faces = [][3]uint32{{0, 1, 3}, {0, 3, 2}}
	return mesh, meta
}

func TestPLYHeader(t *testing.T) {
	mesh, meta := newTestMesh(t)
	var buf bytes.Buffer
	test.That(t, mesh.ToPLY(&buf, false, meta), test.ShouldBeNil)

	header := buf.String()
	test.That(t, header, test.ShouldContainSubstring, "ply\nformat ascii 1.0\n")
	test.That(t, header, test.ShouldContainSubstring, "element vertex 4")
	test.That(t, header, test.ShouldContainSubstring, "element face 2")
	test.That(t, header, test.ShouldContainSubstring, "property float nx")
	test.That(t, header, test.ShouldContainSubstring, "property uchar red")
	test.That(t, header, test.ShouldContainSubstring, "property list uchar uint vertex_indices")
	test.That(t, header, test.ShouldContainSubstring, "end_header")
}

func TestPLYRoundTrip(t *testing.T) {
	for _, binaryFormat := range []bool{false, true} {
		mesh, meta := newTestMesh(t)
		var buf bytes.Buffer
		test.That(t, mesh.ToPLY(&buf, binaryFormat, meta), test.ShouldBeNil)

		got, err := ReadPLY(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldEqual, 4)
		test.That(t, CloudContains(got, 100, 0, 1000), test.ShouldBeTrue)

		d, ok := got.At(100, 100, 1000)
		test.That(t, ok, test.ShouldBeTrue)
		r, _, _ := d.RGB255()
		test.That(t, r, test.ShouldEqual, uint8(150))
		test.That(t, d.HasNormal(), test.ShouldBeTrue)
		test.That(t, d.Normal().Z, test.ShouldAlmostEqual, 1, 1e-4)
	}
}

func TestPLYFileRoundTrip(t *testing.T) {
	mesh, meta := newTestMesh(t)
	fn := filepath.Join(t.TempDir(), "mesh.ply")
	test.That(t, SaveMeshToPLYFile(mesh, meta, fn, true), test.ShouldBeNil)

	got, err := NewFromPLYFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, 4)
}

func TestReadPLYRejectsMalformed(t *testing.T) {
	_, err := ReadPLY(bytes.NewReader([]byte("not a ply\n")))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPLY(bytes.NewReader([]byte("ply\nformat ascii 1.0\nelement vertex 2\n" +
		"property float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n")))
	test.That(t, err, test.ShouldNotBeNil)
}
