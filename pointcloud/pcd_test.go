package pointcloud

import (
	"bytes"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func newTestCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(-1000, 0, 500), NewColoredData(color.NRGBA{R: 255, G: 1, B: 77, A: 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(2000, -3000, 100), NewColoredData(color.NRGBA{R: 0, G: 200, B: 10, A: 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(7, 8, 9), NewColoredData(color.NRGBA{A: 255})), test.ShouldBeNil)
	return pc
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
		pc := newTestCloud(t)

		var buf bytes.Buffer
		test.That(t, ToPCD(pc, &buf, pcdType), test.ShouldBeNil)

		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldEqual, pc.Size())
		test.That(t, got.MetaData().HasColor, test.ShouldBeTrue)

		d, ok := got.At(-1000, 0, 500)
		test.That(t, ok, test.ShouldBeTrue)
		r, g, b := d.RGB255()
		test.That(t, r, test.ShouldEqual, uint8(255))
		test.That(t, g, test.ShouldEqual, uint8(1))
		test.That(t, b, test.ShouldEqual, uint8(77))
	}
}

func TestPCDRoundTripNormals(t *testing.T) {
	pc := New()
	d := NewNormalData(r3.Vector{Z: 1}).SetCurvature(0.25)
	test.That(t, pc.Set(NewVector(100, 200, 300), d), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDBinary), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "normal_x")

	got, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	dd, ok := got.At(100, 200, 300)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dd.HasNormal(), test.ShouldBeTrue)
	test.That(t, dd.Normal().Z, test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, dd.Curvature(), test.ShouldAlmostEqual, 0.25, 1e-4)
}

func TestPCDHeader(t *testing.T) {
	pc := newTestCloud(t)
	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDAscii), test.ShouldBeNil)

	header := buf.String()
	test.That(t, header, test.ShouldContainSubstring, "VERSION .7")
	test.That(t, header, test.ShouldContainSubstring, "FIELDS x y z rgb")
	test.That(t, header, test.ShouldContainSubstring, "POINTS 3")
	test.That(t, header, test.ShouldContainSubstring, "DATA ascii")
}

func TestPCDMetersOnDisk(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1000, -2500, 0), nil), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, "1 -2.5 0")
}

func TestReadPCDRejectsMalformed(t *testing.T) {
	_, err := ReadPCD(strings.NewReader("VERSION .7\nWIDTH 1\n"))
	test.That(t, err, test.ShouldNotBeNil)

	truncated := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA ascii\n1 2 3\n"
	_, err = ReadPCD(strings.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)

	// field sizes other than 4 must be rejected up front, not fed to the
	// binary decoder
	smallSize := "VERSION .7\nFIELDS x y z\nSIZE 2 2 2\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary\n" +
		string([]byte{0, 0, 0, 0, 0, 0})
	_, err = ReadPCD(strings.NewReader(smallSize))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "SIZE")

	doubleSize := "VERSION .7\nFIELDS x y z\nSIZE 8 8 8\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary\n"
	_, err = ReadPCD(strings.NewReader(doubleSize))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPCDRoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPCD(New(), &buf, PCDBinary), test.ShouldBeNil)

	got, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, 0)
}

func TestPCDFileRoundTrip(t *testing.T) {
	pc := newTestCloud(t)
	fn := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, SaveToPCDFile(pc, fn, PCDBinary), test.ShouldBeNil)

	got, err := NewFromPCDFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, 3)

	_, err = NewFromPCDFile(filepath.Join(t.TempDir(), "nope.pcd"))
	test.That(t, err, test.ShouldNotBeNil)
}
