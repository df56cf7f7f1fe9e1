// Package grid maps discrete voxel indices of a regular 3D grid to physical
// coordinates and back. A grid is embedded in physical space by its origin
// (the physical position of voxel 0,0,0), its per-axis spacing and a
// direction matrix whose columns are the physical directions of the index axes.
package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidGeometry is returned by Validate for grids that cannot be used
// for index/physical mapping.
var ErrInvalidGeometry = errors.New("invalid grid geometry")

// boundsTolerance absorbs floating point round-off when a mapped index lands
// on a grid boundary (e.g. after a full 360 degree rotation).
const boundsTolerance = 1e-6

// orthonormalTolerance is the accepted deviation of DᵀD from the identity.
const orthonormalTolerance = 1e-6

// MaxVoxels bounds the number of voxels a valid grid may hold.
const MaxVoxels = 1 << 36

// Geometry describes the placement of a voxel grid in physical space
type Geometry struct {
	// Size is the number of voxels along each index axis
	Size [3]int

	// Spacing is the physical distance between neighbouring voxels per axis
	Spacing r3.Vec

	// Origin is the physical coordinate of voxel (0,0,0)
	Origin r3.Vec

	// Direction maps index-axis directions to physical directions.
	// Direction[r][c] is row r, column c.
	Direction [3][3]float64
}

// IdentityDirection returns the identity orientation matrix
func IdentityDirection() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewGeometry creates a geometry of the given size with unit spacing, zero
// origin and identity direction.
func NewGeometry(size [3]int) Geometry {
	return Geometry{
		Size:      size,
		Spacing:   r3.Vec{X: 1, Y: 1, Z: 1},
		Direction: IdentityDirection(),
	}
}

// NumVoxels returns the product of the size components. Only meaningful for
// grids that pass Validate.
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// VoxelCount is NumVoxels with the product checked against overflow and
// MaxVoxels. Negative sizes are rejected.
func VoxelCount(size [3]int) (int, error) {
	count := 1
	for axis, n := range size {
		if n < 0 {
			return 0, fmt.Errorf("%w: size[%d] = %d is negative", ErrInvalidGeometry, axis, n)
		}
		if n > 0 && count > MaxVoxels/n {
			return 0, fmt.Errorf("%w: size %v exceeds %d voxels", ErrInvalidGeometry, size, MaxVoxels)
		}
		count *= n
	}
	return count, nil
}

// Validate checks the invariants every grid must hold: non-negative size
// with at most MaxVoxels voxels, strictly positive spacing and an
// orthonormal direction matrix.
func (g Geometry) Validate() error {
	if _, err := VoxelCount(g.Size); err != nil {
		return err
	}

	spacing := vecComponents(g.Spacing)
	for axis, s := range spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: spacing[%d] = %g must be positive", ErrInvalidGeometry, axis, s)
		}
	}

	d := g.directionDense()
	var dtd mat.Dense
	dtd.Mul(d.T(), d)
	if !mat.EqualApprox(&dtd, identity3(), orthonormalTolerance) {
		return fmt.Errorf("%w: direction matrix is not orthonormal", ErrInvalidGeometry)
	}

	return nil
}

// IndexToPhysical converts a discrete voxel index into its physical point:
// origin + D·(spacing ⊙ index). Out-of-range indices are mapped as well.
func (g Geometry) IndexToPhysical(index [3]int) r3.Vec {
	return g.ContinuousIndexToPhysical(r3.Vec{
		X: float64(index[0]),
		Y: float64(index[1]),
		Z: float64(index[2]),
	})
}

// ContinuousIndexToPhysical is IndexToPhysical for real-valued indices
func (g Geometry) ContinuousIndexToPhysical(ci r3.Vec) r3.Vec {
	scaled := r3.Vec{
		X: g.Spacing.X * ci.X,
		Y: g.Spacing.Y * ci.Y,
		Z: g.Spacing.Z * ci.Z,
	}
	return r3.Add(g.Origin, mulDirection(g.Direction, scaled))
}

// PhysicalToContinuousIndex is the inverse of ContinuousIndexToPhysical:
// spacing⁻¹ ⊙ (Dᵀ·(p − origin)). D is orthonormal so its inverse is Dᵀ.
func (g Geometry) PhysicalToContinuousIndex(p r3.Vec) r3.Vec {
	local := mulDirectionTrans(g.Direction, r3.Sub(p, g.Origin))
	return r3.Vec{
		X: local.X / g.Spacing.X,
		Y: local.Y / g.Spacing.Y,
		Z: local.Z / g.Spacing.Z,
	}
}

// IsIndexInBounds reports whether every component of the continuous index
// lies in the closed interval [0, size-1] of its axis.
func (g Geometry) IsIndexInBounds(ci r3.Vec) bool {
	for axis, c := range vecComponents(ci) {
		if math.IsNaN(c) {
			return false
		}
		hi := float64(g.Size[axis] - 1)
		if c < -boundsTolerance || c > hi+boundsTolerance {
			return false
		}
	}
	return true
}

// SnapIndex clamps components that are within round-off of a grid boundary
// onto the boundary. Components further away are returned unchanged.
func (g Geometry) SnapIndex(ci r3.Vec) r3.Vec {
	c := vecComponents(ci)
	for axis := range c {
		hi := float64(g.Size[axis] - 1)
		switch {
		case c[axis] < 0 && c[axis] >= -boundsTolerance:
			c[axis] = 0
		case c[axis] > hi && c[axis] <= hi+boundsTolerance:
			c[axis] = hi
		}
	}
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}
}

// PhysicalCenter returns origin + spacing ⊙ size / 2 per axis. This is the
// physical center of the grid's extent when direction is the identity.
func (g Geometry) PhysicalCenter() r3.Vec {
	return r3.Vec{
		X: g.Origin.X + g.Spacing.X*float64(g.Size[0])/2.0,
		Y: g.Origin.Y + g.Spacing.Y*float64(g.Size[1])/2.0,
		Z: g.Origin.Z + g.Spacing.Z*float64(g.Size[2])/2.0,
	}
}

// IndexCenter returns the central voxel index (size/2, integer division)
// taken verbatim as a point, without applying origin or spacing.
func (g Geometry) IndexCenter() r3.Vec {
	return r3.Vec{
		X: float64(g.Size[0] / 2),
		Y: float64(g.Size[1] / 2),
		Z: float64(g.Size[2] / 2),
	}
}

// String implements fmt.Stringer
func (g Geometry) String() string {
	return fmt.Sprintf("size=%v spacing=(%g,%g,%g) origin=(%g,%g,%g)",
		g.Size, g.Spacing.X, g.Spacing.Y, g.Spacing.Z, g.Origin.X, g.Origin.Y, g.Origin.Z)
}

func (g Geometry) directionDense() *mat.Dense {
	flat := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		flat = append(flat, g.Direction[r][:]...)
	}
	return mat.NewDense(3, 3, flat)
}

func identity3() *mat.DiagDense {
	return mat.NewDiagDense(3, []float64{1, 1, 1})
}

func mulDirection(d [3][3]float64, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: d[0][0]*v.X + d[0][1]*v.Y + d[0][2]*v.Z,
		Y: d[1][0]*v.X + d[1][1]*v.Y + d[1][2]*v.Z,
		Z: d[2][0]*v.X + d[2][1]*v.Y + d[2][2]*v.Z,
	}
}

func mulDirectionTrans(d [3][3]float64, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: d[0][0]*v.X + d[1][0]*v.Y + d[2][0]*v.Z,
		Y: d[0][1]*v.X + d[1][1]*v.Y + d[2][1]*v.Z,
		Z: d[0][2]*v.X + d[1][2]*v.Y + d[2][2]*v.Z,
	}
}

func vecComponents(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
