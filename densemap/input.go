package densemap

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/dense-mapping/spatialmath"
)

// KeyframeInput is an opaque bundle produced by a SLAM front end: a camera
// pose, the raw points observed from it in the camera frame, and a capture
// timestamp. Optional per-point normals, colors and segment labels ride
// along; slices other than Points must either be empty or match its length.
//
// The caller owns the input until it is handed to InsertData, after which
// the engine may retain or discard it at will. Each input is consumed at
// most once.
type KeyframeInput struct {
	// ID identifies the input so a repeated handoff can be dropped.
	ID uuid.UUID

	// Pose is the world-from-camera rigid transform as a 4x4 homogeneous
	// matrix. It is validated at handoff; inputs with a non-rigid or
	// non-finite pose are dropped.
	Pose *mat.Dense

	// Points are camera-frame positions in millimeters.
	Points []r3.Vector

	// Normals are optional camera-frame unit normals, one per point.
	Normals []r3.Vector

	// Colors are optional per-point colors.
	Colors []color.NRGBA

	// Labels are optional per-point segment labels.
	Labels []int

	// Timestamp is the capture time on the front end's logical clock.
	Timestamp uint64

	// pose is the validated transform, set during handoff.
	pose spatialmath.Pose
}

// NewKeyframeInput assembles a keyframe input with a fresh identity.
func NewKeyframeInput(pose *mat.Dense, points []r3.Vector, timestamp uint64) *KeyframeInput {
	return &KeyframeInput{
		ID:        uuid.New(),
		Pose:      pose,
		Points:    points,
		Timestamp: timestamp,
	}
}

// validate parses and checks the pose and the attribute slice lengths,
// filling in the parsed pose on success.
func (in *KeyframeInput) validate() error {
	pose, err := spatialmath.NewPoseFromMatrix(in.Pose)
	if err != nil {
		return err
	}
	if len(in.Points) == 0 {
		return errEmptyInput
	}
	if len(in.Normals) != 0 && len(in.Normals) != len(in.Points) {
		return errAttributeMismatch
	}
	if len(in.Colors) != 0 && len(in.Colors) != len(in.Points) {
		return errAttributeMismatch
	}
	if len(in.Labels) != 0 && len(in.Labels) != len(in.Points) {
		return errAttributeMismatch
	}
	in.pose = pose
	return nil
}
