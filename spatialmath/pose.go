// Package spatialmath defines the spatial mathematical operations needed to
// move point sets between camera and world frames.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RigidTransformTolerance is the largest norm deviation from orthonormality
// that a rotation block may have and still be accepted as a rigid transform.
const RigidTransformTolerance = 1e-5

// Pose is a rigid transform, a rotation followed by a translation.
type Pose struct {
	rotation    quat.Number
	translation r3.Vector
}

// NewZeroPose returns an identity pose.
func NewZeroPose() Pose {
	return Pose{rotation: quat.Number{Real: 1}}
}

// NewPoseFromPoint returns a pose with no rotation and the given translation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{rotation: quat.Number{Real: 1}, translation: pt}
}

// NewPose returns a pose with the given translation and rotation quaternion.
// The quaternion is normalized.
func NewPose(pt r3.Vector, q quat.Number) Pose {
	n := quatNorm(q)
	if n == 0 {
		return NewPoseFromPoint(pt)
	}
	return Pose{rotation: quat.Scale(1./n, q), translation: pt}
}

// NewPoseFromAxisAngle returns a pose rotated by the given angle about the
// given axis, with the given translation.
func NewPoseFromAxisAngle(pt, axis r3.Vector, theta float64) Pose {
	if axis.Norm() == 0 {
		return NewPoseFromPoint(pt)
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2.)
	return Pose{
		rotation:    quat.Number{Real: math.Cos(theta / 2.), Imag: s * axis.X, Jmag: s * axis.Y, Kmag: s * axis.Z},
		translation: pt,
	}
}

// NewPoseFromMatrix builds a pose from a 4x4 homogeneous transform matrix,
// validating that its rotation block is orthonormal with determinant +1 and
// that its translation is finite. Anything else is not a rigid transform and
// is rejected.
func NewPoseFromMatrix(m *mat.Dense) (Pose, error) {
	if m == nil {
		return Pose{}, errors.New("nil transform matrix")
	}
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Pose{}, errors.Errorf("expected 4x4 transform matrix, got %dx%d", r, c)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(m.At(i, j)) || math.IsInf(m.At(i, j), 0) {
				return Pose{}, errors.New("transform matrix has non-finite entries")
			}
		}
	}

	var rot mat.Dense
	rot.CloneFrom(m.Slice(0, 3, 0, 3))

	// R * Rᵀ must be the identity for a rotation
	var rrt mat.Dense
	rrt.Mul(&rot, rot.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1.
			}
			if math.Abs(rrt.At(i, j)-want) > RigidTransformTolerance {
				return Pose{}, errors.New("rotation block of transform matrix is not orthonormal")
			}
		}
	}
	if det := mat.Det(&rot); math.Abs(det-1.) > RigidTransformTolerance {
		return Pose{}, errors.Errorf("rotation block of transform matrix has determinant %f, not a rotation", det)
	}

	return Pose{
		rotation:    matToQuat(&rot),
		translation: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
	}, nil
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.translation
}

// Rotation returns the rotation quaternion of the pose.
func (p Pose) Rotation() quat.Number {
	return p.rotation
}

// TransformPoint applies the pose to the given point.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return rotateVector(p.rotation, pt).Add(p.translation)
}

// TransformNormal applies only the rotation of the pose to the given vector,
// as appropriate for surface normals.
func (p Pose) TransformNormal(n r3.Vector) r3.Vector {
	return rotateVector(p.rotation, n)
}

// Compose returns the pose equivalent to applying b first, then a.
func Compose(a, b Pose) Pose {
	return Pose{
		rotation:    quat.Mul(a.rotation, b.rotation),
		translation: a.TransformPoint(b.translation),
	}
}

// Invert returns the inverse pose.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.rotation)
	return Pose{
		rotation:    inv,
		translation: rotateVector(inv, p.translation.Mul(-1)),
	}
}

// Matrix returns the 4x4 homogeneous transform matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	rot := quatToMat(p.rotation)
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rot.At(i, j))
		}
	}
	out.Set(0, 3, p.translation.X)
	out.Set(1, 3, p.translation.Y)
	out.Set(2, 3, p.translation.Z)
	out.Set(3, 3, 1)
	return out
}

// AlmostEqual returns whether two poses are approximately the same.
func (p Pose) AlmostEqual(o Pose) bool {
	if p.translation.Sub(o.translation).Norm() > 1e-8 {
		return false
	}
	// q and -q are the same rotation
	d := quat.Mul(p.rotation, quat.Conj(o.rotation))
	return math.Abs(math.Abs(d.Real)-1) < 1e-8
}

func quatNorm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

func rotateVector(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// matToQuat converts an orthonormal 3x3 rotation matrix to a unit quaternion
// using Shepperd's method.
func matToQuat(m *mat.Dense) quat.Number {
	tr := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1.) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := math.Sqrt(1.+m.At(0, 0)-m.At(1, 1)-m.At(2, 2)) * 2
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := math.Sqrt(1.+m.At(1, 1)-m.At(0, 0)-m.At(2, 2)) * 2
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := math.Sqrt(1.+m.At(2, 2)-m.At(0, 0)-m.At(1, 1)) * 2
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	n := quatNorm(q)
	return quat.Scale(1./n, q)
}

func quatToMat(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}
