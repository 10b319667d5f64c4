package pointcloud

import (
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestCloudCentroid(t *testing.T) {
	pc := New()
	test.That(t, CloudCentroid(pc).X, test.ShouldEqual, 0.0)

	test.That(t, pc.Set(NewVector(0, 0, 0), nil), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(10, 20, 30), nil), test.ShouldBeNil)
	c := CloudCentroid(pc)
	test.That(t, c.X, test.ShouldAlmostEqual, 5)
	test.That(t, c.Y, test.ShouldAlmostEqual, 10)
	test.That(t, c.Z, test.ShouldAlmostEqual, 15)
}

func TestCloneCloudIsDeep(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1, 1, 1), NewColoredData(color.NRGBA{R: 10, A: 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(2, 2, 2), nil), test.ShouldBeNil)

	clone := CloneCloud(pc)
	test.That(t, clone.Size(), test.ShouldEqual, 2)
	test.That(t, CloudContains(clone, 1, 1, 1), test.ShouldBeTrue)

	d, _ := clone.At(1, 1, 1)
	d.SetColor(color.NRGBA{R: 200, A: 255})
	orig, _ := pc.At(1, 1, 1)
	r, _, _ := orig.RGB255()
	test.That(t, r, test.ShouldEqual, uint8(10))
}

func TestInvertColors(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1, 1, 1), NewColoredData(color.NRGBA{R: 0, G: 100, B: 255, A: 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(2, 2, 2), nil), test.ShouldBeNil)

	InvertColors(pc)
	d, _ := pc.At(1, 1, 1)
	r, g, b := d.RGB255()
	test.That(t, r, test.ShouldEqual, uint8(255))
	test.That(t, g, test.ShouldEqual, uint8(155))
	test.That(t, b, test.ShouldEqual, uint8(0))
}

func TestCloudMatrix(t *testing.T) {
	pc := New()
	m, header := CloudMatrix(pc)
	test.That(t, m, test.ShouldBeNil)
	test.That(t, header, test.ShouldBeNil)

	test.That(t, pc.Set(NewVector(1, 2, 3), NewColoredData(color.NRGBA{R: 10, G: 20, B: 30, A: 255})), test.ShouldBeNil)
	m, header = CloudMatrix(pc)
	rows, cols := m.Dims()
	test.That(t, rows, test.ShouldEqual, 1)
	test.That(t, cols, test.ShouldEqual, 6)
	test.That(t, header, test.ShouldResemble, []CloudMatrixCol{
		CloudMatrixColX, CloudMatrixColY, CloudMatrixColZ,
		CloudMatrixColR, CloudMatrixColG, CloudMatrixColB,
	})
	test.That(t, m.At(0, 0), test.ShouldEqual, 1.0)
	test.That(t, m.At(0, 3), test.ShouldEqual, 10.0)

	test.That(t, pc.Set(NewVector(4, 5, 6), NewValueData(7)), test.ShouldBeNil)
	m, header = CloudMatrix(pc)
	_, cols = m.Dims()
	test.That(t, cols, test.ShouldEqual, 7)
	test.That(t, header[6], test.ShouldEqual, CloudMatrixColV)
}
