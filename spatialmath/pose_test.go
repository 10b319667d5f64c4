package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestNewPoseFromMatrix(t *testing.T) {
	identity := mat.NewDense(4, 4, []float64{
		1, 0, 0, 10,
		0, 1, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	})
	p, err := NewPoseFromMatrix(identity)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Point(), test.ShouldResemble, r3.Vector{X: 10, Y: 20, Z: 30})

	// 90 degrees about Z
	rotZ := mat.NewDense(4, 4, []float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	p, err = NewPoseFromMatrix(rotZ)
	test.That(t, err, test.ShouldBeNil)
	got := p.TransformPoint(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-9)
}

func TestNewPoseFromMatrixRejectsNonRigid(t *testing.T) {
	scaled := mat.NewDense(4, 4, []float64{
		2, 0, 0, 0,
		0, 2, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 1,
	})
	_, err := NewPoseFromMatrix(scaled)
	test.That(t, err, test.ShouldNotBeNil)

	// orthonormal but determinant -1, a reflection
	mirrored := mat.NewDense(4, 4, []float64{
		-1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	_, err = NewPoseFromMatrix(mirrored)
	test.That(t, err, test.ShouldNotBeNil)

	nonFinite := mat.NewDense(4, 4, []float64{
		1, 0, 0, math.NaN(),
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	_, err = NewPoseFromMatrix(nonFinite)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewPoseFromMatrix(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewPoseFromMatrix(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPoseTransforms(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{Z: 100}, r3.Vector{Z: 1}, math.Pi/2)

	got := p.TransformPoint(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, got.Z, test.ShouldAlmostEqual, 100, 1e-9)

	// normals rotate but do not translate
	n := p.TransformNormal(r3.Vector{X: 1})
	test.That(t, n.Y, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, n.Z, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestPoseComposeAndInvert(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{X: 5}, r3.Vector{Z: 1}, math.Pi/3)
	b := NewPoseFromAxisAngle(r3.Vector{Y: -2, Z: 7}, r3.Vector{X: 1}, -math.Pi/5)

	ab := Compose(a, b)
	pt := r3.Vector{X: 1, Y: 2, Z: 3}
	direct := a.TransformPoint(b.TransformPoint(pt))
	composed := ab.TransformPoint(pt)
	test.That(t, composed.X, test.ShouldAlmostEqual, direct.X, 1e-9)
	test.That(t, composed.Y, test.ShouldAlmostEqual, direct.Y, 1e-9)
	test.That(t, composed.Z, test.ShouldAlmostEqual, direct.Z, 1e-9)

	test.That(t, Compose(a, a.Invert()).AlmostEqual(NewZeroPose()), test.ShouldBeTrue)

	inv := a.Invert()
	back := inv.TransformPoint(a.TransformPoint(pt))
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y, 1e-9)
	test.That(t, back.Z, test.ShouldAlmostEqual, pt.Z, 1e-9)
}

func TestPoseMatrixRoundTrip(t *testing.T) {
	poses := []Pose{
		NewZeroPose(),
		NewPoseFromPoint(r3.Vector{X: 1, Y: -2, Z: 3}),
		NewPoseFromAxisAngle(r3.Vector{X: 10}, r3.Vector{X: 1, Y: 1, Z: 1}, 2.1),
		NewPoseFromAxisAngle(r3.Vector{}, r3.Vector{Y: 1}, math.Pi-1e-4),
	}
	for _, p := range poses {
		back, err := NewPoseFromMatrix(p.Matrix())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.AlmostEqual(p), test.ShouldBeTrue)
	}
}
