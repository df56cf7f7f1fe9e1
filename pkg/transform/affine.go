// Package transform implements the affine transforms applied to volumes:
// translations, rotations about a center, scalings about a center and their
// compositions. A transform maps a physical point p to M·p + t and is a plain
// value; none of the operations mutate their operands.
package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidParameter is returned for constructor arguments outside
	// their domain, e.g. a non-positive scale factor.
	ErrInvalidParameter = errors.New("invalid transform parameter")

	// ErrSingular is returned when inverting a transform whose matrix has
	// a (near) zero determinant.
	ErrSingular = errors.New("singular transform")
)

// singularEpsilon is the determinant magnitude below which a matrix is
// treated as non-invertible.
const singularEpsilon = 1e-12

// Kind tags the constructor that produced a transform
type Kind int

const (
	KindIdentity Kind = iota
	KindTranslation
	KindRotation
	KindScale
	KindComposed
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindTranslation:
		return "translation"
	case KindRotation:
		return "rotation"
	case KindScale:
		return "scale"
	case KindComposed:
		return "composed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Plane selects the two physical axes a rotation is confined to. A positive
// angle rotates the first axis toward the second.
type Plane struct {
	A, B int
}

var (
	PlaneXY = Plane{A: 0, B: 1}
	PlaneYZ = Plane{A: 1, B: 2}
	PlaneXZ = Plane{A: 0, B: 2}
)

func (p Plane) valid() bool {
	return p.A >= 0 && p.A < 3 && p.B >= 0 && p.B < 3 && p.A != p.B
}

// Affine is the transform p' = Matrix·p + Offset
type Affine struct {
	Kind   Kind
	Matrix [3][3]float64
	Offset r3.Vec
}

// Identity returns the transform that leaves every point unchanged
func Identity() Affine {
	return Affine{
		Kind:   KindIdentity,
		Matrix: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// Translation returns the transform p' = p + v
func Translation(v r3.Vec) Affine {
	t := Identity()
	t.Kind = KindTranslation
	t.Offset = v
	return t
}

// Rotation returns a rotation by angle radians within plane about center.
// Converting degrees is left to the caller.
func Rotation(center r3.Vec, plane Plane, angle float64) (Affine, error) {
	if !plane.valid() {
		return Affine{}, fmt.Errorf("%w: rotation plane axes (%d,%d)", ErrInvalidParameter, plane.A, plane.B)
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return Affine{}, fmt.Errorf("%w: rotation angle %g", ErrInvalidParameter, angle)
	}

	c, s := math.Cos(angle), math.Sin(angle)
	r := Identity()
	r.Matrix[plane.A][plane.A] = c
	r.Matrix[plane.A][plane.B] = -s
	r.Matrix[plane.B][plane.A] = s
	r.Matrix[plane.B][plane.B] = c

	t := aboutCenter(r, center)
	t.Kind = KindRotation
	return t, nil
}

// Scale returns a per-axis scaling about center. Every factor must be
// strictly positive.
func Scale(center r3.Vec, factors r3.Vec) (Affine, error) {
	for axis, f := range [3]float64{factors.X, factors.Y, factors.Z} {
		if !(f > 0) || math.IsInf(f, 0) {
			return Affine{}, fmt.Errorf("%w: scale factor[%d] = %g must be positive", ErrInvalidParameter, axis, f)
		}
	}

	d := Identity()
	d.Matrix[0][0] = factors.X
	d.Matrix[1][1] = factors.Y
	d.Matrix[2][2] = factors.Z

	t := aboutCenter(d, center)
	t.Kind = KindScale
	return t, nil
}

// aboutCenter conjugates a linear map with the translations to and from
// center: first move center to the origin, apply lin, then move back.
func aboutCenter(lin Affine, center r3.Vec) Affine {
	return Compose(Translation(center), Compose(lin, Translation(r3.Scale(-1, center))))
}

// Compose returns a∘b, the transform that applies b first and then a:
// matrix Ma·Mb, offset Ma·tb + ta.
func Compose(a, b Affine) Affine {
	var m mat.Dense
	m.Mul(a.dense(), b.dense())

	out := fromDense(KindComposed, &m)
	out.Offset = r3.Add(a.mulMatrix(b.Offset), a.Offset)
	return out
}

// Apply maps p through the transform
func (t Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.mulMatrix(p), t.Offset)
}

// Determinant returns det(Matrix)
func (t Affine) Determinant() float64 {
	return mat.Det(t.dense())
}

// Invert returns the inverse transform M⁻¹, −M⁻¹·t. It fails with
// ErrSingular when |det(M)| is below a small epsilon.
func Invert(t Affine) (Affine, error) {
	m := t.dense()
	if det := mat.Det(m); math.Abs(det) < singularEpsilon || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("%w: determinant %g", ErrSingular, det)
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	out := fromDense(t.Kind, &inv)
	out.Offset = r3.Scale(-1, out.mulMatrix(t.Offset))
	return out, nil
}

// Equal reports whether every matrix and offset entry of t and u differ by
// at most tol. Kinds are not compared.
func (t Affine) Equal(u Affine, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(t.Matrix[i][j]-u.Matrix[i][j]) > tol {
				return false
			}
		}
	}
	return math.Abs(t.Offset.X-u.Offset.X) <= tol &&
		math.Abs(t.Offset.Y-u.Offset.Y) <= tol &&
		math.Abs(t.Offset.Z-u.Offset.Z) <= tol
}

// String implements fmt.Stringer
func (t Affine) String() string {
	m := t.Matrix
	return fmt.Sprintf("%s[[%g %g %g] [%g %g %g] [%g %g %g]] + (%g,%g,%g)", t.Kind,
		m[0][0], m[0][1], m[0][2], m[1][0], m[1][1], m[1][2], m[2][0], m[2][1], m[2][2],
		t.Offset.X, t.Offset.Y, t.Offset.Z)
}

func (t Affine) mulMatrix(v r3.Vec) r3.Vec {
	m := t.Matrix
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// fromDense builds a linear-only transform from a 3×3 gonum matrix
func fromDense(kind Kind, m mat.Matrix) Affine {
	out := Affine{Kind: kind}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Matrix[i][j] = m.At(i, j)
		}
	}
	return out
}

func (t Affine) dense() *mat.Dense {
	flat := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		flat = append(flat, t.Matrix[i][:]...)
	}
	return mat.NewDense(3, 3, flat)
}
