// Package interpolation samples a volume at real-valued (continuous) voxel
// indices.
package interpolation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
)

// ErrUnknownInterpolator is returned by ByName for unsupported names
var ErrUnknownInterpolator = errors.New("unknown interpolator")

// Interpolator samples a volume at a continuous index. The boolean result is
// false when the index has no valid support in the volume; the value is then
// meaningless and callers substitute their own default.
type Interpolator interface {
	Sample(vol *models.Volume, ci r3.Vec) (float64, bool)
}

var (
	_ Interpolator = NearestNeighbor{}
	_ Interpolator = Linear{}
)

// Names lists the interpolators accepted by ByName
func Names() []string {
	return []string{"linear", "nearest"}
}

// ByName returns the interpolator registered under name (case-insensitive)
func ByName(name string) (Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear", "trilinear":
		return Linear{}, nil
	case "nearest", "nearestneighbor", "nearest-neighbor":
		return NearestNeighbor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (must be one of %s)", ErrUnknownInterpolator, name, strings.Join(Names(), ", "))
	}
}

// NearestNeighbor returns the value of the voxel closest to the index
type NearestNeighbor struct{}

// Sample implements Interpolator
func (NearestNeighbor) Sample(vol *models.Volume, ci r3.Vec) (float64, bool) {
	c := [3]float64{ci.X, ci.Y, ci.Z}
	var idx [3]int
	for axis := range c {
		if math.IsNaN(c[axis]) {
			return 0, false
		}
		r := math.Round(c[axis])
		if r < 0 || r > float64(vol.Size[axis]-1) {
			return 0, false
		}
		idx[axis] = int(r)
	}
	return float64(vol.At(idx[0], idx[1], idx[2])), true
}

// Linear performs trilinear interpolation over the 8 voxels surrounding the
// index. An index outside [0, size-1] on any axis has no support. On the
// last voxel of an axis the fractional part is zero, so the upper neighbour
// carries no weight and is clamped onto the last voxel.
type Linear struct{}

// Sample implements Interpolator
func (Linear) Sample(vol *models.Volume, ci r3.Vec) (float64, bool) {
	if !vol.IsIndexInBounds(ci) {
		return 0, false
	}
	ci = vol.SnapIndex(ci)

	c := [3]float64{ci.X, ci.Y, ci.Z}
	var lo, hi [3]int
	var frac [3]float64
	for axis := range c {
		f := math.Floor(c[axis])
		lo[axis] = int(f)
		frac[axis] = c[axis] - f
		hi[axis] = lo[axis] + 1
		if hi[axis] > vol.Size[axis]-1 {
			hi[axis] = vol.Size[axis] - 1
		}
	}

	var sum float64
	for corner := 0; corner < 8; corner++ {
		w := 1.0
		var idx [3]int
		for axis := 0; axis < 3; axis++ {
			if corner&(1<<axis) != 0 {
				w *= frac[axis]
				idx[axis] = hi[axis]
			} else {
				w *= 1 - frac[axis]
				idx[axis] = lo[axis]
			}
		}
		if w == 0 {
			continue
		}
		sum += w * float64(vol.At(idx[0], idx[1], idx[2]))
	}
	return sum, true
}

// ToPixel rounds an interpolated value to the nearest 8-bit pixel value,
// clamping to [0, 255].
func ToPixel(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
