// Package pipeline runs the user-facing geometric operations: it loads a
// volume, plans the transform and output grid for the requested operation,
// resamples and writes the result.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ks67768/biomedicalimageanalysis/internal/models"
	"github.com/ks67768/biomedicalimageanalysis/pkg/interpolation"
	"github.com/ks67768/biomedicalimageanalysis/pkg/resample"
	"github.com/ks67768/biomedicalimageanalysis/pkg/visualization"
	"github.com/ks67768/biomedicalimageanalysis/pkg/volumeio"
)

// Params holds the parameters of one operation run
type Params struct {
	// Operation selects rotation, translation or scaling
	Operation Operation

	// InputPath and OutputPath name the volumes read and written. Any format
	// understood by volumeio is accepted.
	InputPath  string
	OutputPath string

	// AngleDegrees is the rotation angle
	AngleDegrees float64

	// Shift is the (dx, dy) translation in physical units
	Shift [2]float64

	// ScaleFactor is the uniform in-plane scaling factor
	ScaleFactor float64

	// DefaultValue fills output voxels with no corresponding input sample
	DefaultValue uint8

	// Interpolation names the interpolator; empty selects linear
	Interpolation string

	// NumCores bounds the resampling workers; <= 0 uses all CPUs
	NumCores int

	// Compress zlib-compresses MetaImage output
	Compress bool

	// SaveIntermediaryResults writes preview images of input and output
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory where previews are saved
	IntermediaryDir string
}

// Pipeline executes one operation described by Params
type Pipeline struct {
	params *Params

	input  *models.Volume
	output *models.Volume
	plan   Plan

	metrics Metrics
}

// NewPipeline creates a pipeline for params
func NewPipeline(params *Params) *Pipeline {
	return &Pipeline{params: params}
}

// Process runs the complete pipeline: read, plan, resample, write
func (p *Pipeline) Process(ctx context.Context) error {
	Opsf("Step 1: Loading input volume %s", p.params.InputPath)
	input, err := volumeio.Read(p.params.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	Diagf("Input geometry: %s", input.Geometry)

	if _, err := p.Apply(ctx, input); err != nil {
		return err
	}

	Opsf("Step 4: Writing output volume %s", p.params.OutputPath)
	if err := volumeio.Write(p.params.OutputPath, p.output, volumeio.WriteOptions{Compress: p.params.Compress}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

// Apply plans and resamples an in-memory volume. The input is not modified.
func (p *Pipeline) Apply(ctx context.Context, input *models.Volume) (*models.Volume, error) {
	p.input = input

	Opsf("Step 2: Planning %s", p.params.Operation)
	plan, err := p.buildPlan()
	if err != nil {
		return nil, fmt.Errorf("failed to plan %s: %w", p.params.Operation, err)
	}
	p.plan = plan
	Diagf("Forward transform: %s", plan.Transform)
	Diagf("Output geometry: %s, default value %d", plan.Output, plan.DefaultValue)

	if p.params.SaveIntermediaryResults {
		p.saveIntermediaryResult("01_input", input)
	}

	name := p.interpolationName()
	interp, err := interpolation.ByName(name)
	if err != nil {
		return nil, err
	}

	Opsf("Step 3: Resampling with %s interpolation", name)
	start := time.Now()
	output, err := resample.Resample(ctx, input, plan.Output, plan.Transform, resample.Options{
		Interpolator: interp,
		DefaultValue: plan.DefaultValue,
		NumCores:     p.params.NumCores,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resample: %w", err)
	}
	p.output = output
	Diagf("Resampled %d voxels in %v", output.NumVoxels(), time.Since(start))

	if p.params.SaveIntermediaryResults {
		p.saveIntermediaryResult("02_output", output)
	}

	p.metrics = ComputeMetrics(input, output, plan.DefaultValue)
	Diagf("Metrics: RMSE=%.3f correlation=%.4f SSIM=%.4f entropyDiff=%.4f defaultFraction=%.4f",
		p.metrics.RMSE, p.metrics.Correlation, p.metrics.SSIM, p.metrics.EntropyDiff, p.metrics.DefaultFraction)

	return output, nil
}

// buildPlan dispatches to the planner for the configured operation
func (p *Pipeline) buildPlan() (Plan, error) {
	geom := p.input.Geometry
	switch p.params.Operation {
	case OpRotation:
		return PlanRotation(geom, p.params.AngleDegrees, p.params.DefaultValue)
	case OpTranslation:
		return PlanTranslation(geom, p.params.Shift[0], p.params.Shift[1], p.params.DefaultValue)
	case OpScaling:
		return PlanScaling(geom, p.params.ScaleFactor, p.params.DefaultValue)
	default:
		return Plan{}, fmt.Errorf("unknown operation %v", p.params.Operation)
	}
}

func (p *Pipeline) interpolationName() string {
	if p.params.Interpolation == "" {
		return "linear"
	}
	return p.params.Interpolation
}

// saveIntermediaryResult writes the middle z slice of vol as a PNG and a
// heat map under IntermediaryDir/<operation>/<stage>. Failures are only
// logged.
func (p *Pipeline) saveIntermediaryResult(stage string, vol *models.Volume) {
	stageDir := filepath.Join(p.params.IntermediaryDir, p.params.Operation.String(), stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		Opsf("Warning: Failed to create intermediary directory: %v", err)
		return
	}

	viewer := visualization.NewViewer(vol)
	z := vol.Size[2] / 2

	img, err := viewer.ExtractSlice("z", z)
	if err != nil {
		Opsf("Warning: Failed to extract %s slice %d: %v", stage, z, err)
		return
	}
	if err := viewer.SaveSlice(img, filepath.Join(stageDir, fmt.Sprintf("slice_%03d.png", z))); err != nil {
		Opsf("Warning: Failed to save %s slice %d: %v", stage, z, err)
	}

	title := fmt.Sprintf("%s %s z=%d", p.params.Operation, stage, z)
	if err := viewer.SaveHeatMap("z", z, title, filepath.Join(stageDir, fmt.Sprintf("heatmap_%03d.png", z))); err != nil {
		Opsf("Warning: Failed to save %s heat map: %v", stage, err)
	}
}

// Metrics returns the quality metrics of the last run
func (p *Pipeline) Metrics() Metrics {
	return p.metrics
}

// Plan returns the plan of the last run
func (p *Pipeline) Plan() Plan {
	return p.plan
}

// Output returns the resampled volume of the last run, or nil
func (p *Pipeline) Output() *models.Volume {
	return p.output
}
