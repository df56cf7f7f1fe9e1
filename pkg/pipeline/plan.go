package pipeline

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
	"github.com/ks67768/biomedicalimageanalysis/pkg/transform"
)

// Operation selects one of the user-facing geometric operations
type Operation int

const (
	OpRotation Operation = iota
	OpTranslation
	OpScaling
)

func (op Operation) String() string {
	switch op {
	case OpRotation:
		return "rotation"
	case OpTranslation:
		return "translation"
	case OpScaling:
		return "scaling"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

// ParseOperation maps a command name to an Operation
func ParseOperation(name string) (Operation, error) {
	switch strings.ToLower(name) {
	case "rotation", "rotate":
		return OpRotation, nil
	case "translation", "translate":
		return OpTranslation, nil
	case "scaling", "scale":
		return OpScaling, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", name)
	}
}

// Plan is everything the resampler needs for one operation: where the
// output lives, how content moves and what fills the uncovered voxels.
type Plan struct {
	Operation    Operation
	Output       grid.Geometry
	Transform    transform.Affine
	DefaultValue uint8
}

// PlanRotation rotates the content of input by degrees in the x-y plane
// about the physical center of the slice extent. The z component of the
// center is the input origin, so every slice turns about the same axis.
//
// The forward transform uses the negated angle: a positive argument turns
// the image content from +y toward +x as seen in index space.
func PlanRotation(input grid.Geometry, degrees float64, fill uint8) (Plan, error) {
	center := input.PhysicalCenter()
	center.Z = input.Origin.Z

	rot, err := transform.Rotation(center, transform.PlaneXY, -degrees*math.Pi/180)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Operation:    OpRotation,
		Output:       input,
		Transform:    rot,
		DefaultValue: fill,
	}, nil
}

// PlanTranslation shifts the content by (dx, dy) physical units; z is
// left untouched.
func PlanTranslation(input grid.Geometry, dx, dy float64, fill uint8) (Plan, error) {
	if math.IsNaN(dx) || math.IsNaN(dy) || math.IsInf(dx, 0) || math.IsInf(dy, 0) {
		return Plan{}, fmt.Errorf("%w: translation (%g, %g)", transform.ErrInvalidParameter, dx, dy)
	}
	return Plan{
		Operation:    OpTranslation,
		Output:       input,
		Transform:    transform.Translation(r3.Vec{X: dx, Y: dy}),
		DefaultValue: fill,
	}, nil
}

// PlanScaling scales the content in x and y by factor about the central
// voxel index, taken as a point. Slices keep their z position.
func PlanScaling(input grid.Geometry, factor float64, fill uint8) (Plan, error) {
	center := input.IndexCenter()
	center.Z = 0

	scale, err := transform.Scale(center, r3.Vec{X: factor, Y: factor, Z: 1})
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Operation:    OpScaling,
		Output:       input,
		Transform:    scale,
		DefaultValue: fill,
	}, nil
}
