// Package resample produces an output volume by pulling every output voxel
// back through the inverse of a forward transform and sampling the input.
package resample

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/grid"
	"github.com/ks67768/biomedicalimageanalysis/pkg/interpolation"
	"github.com/ks67768/biomedicalimageanalysis/pkg/transform"
)

// ErrEmptyOutput is returned when the output geometry has a zero-sized axis
var ErrEmptyOutput = errors.New("output grid has no voxels")

// chunksPerCore controls how finely the output rows are split between workers
const chunksPerCore = 4

// Options holds the per-call resampling parameters
type Options struct {
	// Interpolator samples the input; nil selects trilinear interpolation
	Interpolator interpolation.Interpolator

	// DefaultValue is written to output voxels that map outside the input
	DefaultValue uint8

	// NumCores bounds the number of concurrent workers; <= 0 uses all CPUs
	NumCores int
}

// Resample allocates a volume with the output geometry and fills it by
// mapping each output voxel through the inverse of forward into the input's
// physical space. forward describes how the content moves; it is inverted
// before any voxel is written and ErrSingular is returned if that fails.
//
// Output rows are processed in parallel. ctx is checked between chunks of
// rows; on cancellation the partial output is discarded and ctx.Err() is
// returned.
func Resample(ctx context.Context, input *models.Volume, output grid.Geometry, forward transform.Affine, opts Options) (*models.Volume, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input volume: %w", err)
	}
	for axis, n := range output.Size {
		if n <= 0 {
			return nil, fmt.Errorf("%w: size[%d] = %d", ErrEmptyOutput, axis, n)
		}
	}
	if err := output.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output geometry: %w", err)
	}

	inverse, err := transform.Invert(forward)
	if err != nil {
		return nil, err
	}

	interp := opts.Interpolator
	if interp == nil {
		interp = interpolation.Linear{}
	}
	numCores := opts.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}

	result := models.NewVolume(output)
	nx, ny, nz := output.Size[0], output.Size[1], output.Size[2]
	numRows := ny * nz

	// Each row (fixed y, z) is written by exactly one worker, so the output
	// buffer needs no locking.
	rowsPerChunk := (numRows + numCores*chunksPerCore - 1) / (numCores * chunksPerCore)
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numCores)

	for start := 0; start < numRows; start += rowsPerChunk {
		start := start
		end := start + rowsPerChunk
		if end > numRows {
			end = numRows
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for row := start; row < end; row++ {
				y, z := row%ny, row/ny
				base := result.Offset(0, y, z)
				for x := 0; x < nx; x++ {
					p := output.IndexToPhysical([3]int{x, y, z})
					ci := input.PhysicalToContinuousIndex(inverse.Apply(p))
					if v, ok := interp.Sample(input, ci); ok {
						result.Data[base+x] = interpolation.ToPixel(v)
					} else {
						result.Data[base+x] = opts.DefaultValue
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
