package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ks67768/biomedicalimageanalysis/pkg/config"
	"github.com/ks67768/biomedicalimageanalysis/pkg/pipeline"
	"github.com/ks67768/biomedicalimageanalysis/pkg/volumeio"
)

// options holds the persistent flags shared by every operation
type options struct {
	configPath       string
	numCores         int
	interpolation    string
	defaultValue     uint8
	saveIntermediary bool
	intermediaryDir  string
	compress         bool
	verbose          bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "volresample",
		Short: "Rotate, translate or scale 3D image volumes",
		Long: "volresample resamples a volume under a rotation, translation or scaling.\n" +
			"Volumes may be MetaImage files (" + fmt.Sprint(volumeio.SupportedExtensions()) + "),\n" +
			"single 2D images, or directories of numbered slice images.",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("missing operation: choose rotation, translation, scaling or init-config")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "volresample.yaml", "Path to YAML configuration file")
	flags.IntVar(&opts.numCores, "cores", 0, "Number of CPU cores to use (default from config: all available)")
	flags.StringVar(&opts.interpolation, "interpolation", "", "Interpolator: linear or nearest (default from config)")
	flags.Uint8Var(&opts.defaultValue, "default", 0, "Pixel value for voxels outside the input (default from config per operation)")
	flags.BoolVar(&opts.saveIntermediary, "save-intermediary", false, "Save preview images of input and output")
	flags.StringVar(&opts.intermediaryDir, "intermediary-dir", "", "Directory to save preview images")
	flags.BoolVar(&opts.compress, "compress", false, "Compress MetaImage output with zlib")
	flags.BoolVar(&opts.verbose, "verbose", false, "Log per-step diagnostics and metrics")

	root.AddCommand(
		newRotationCmd(opts),
		newTranslationCmd(opts),
		newScalingCmd(opts),
		newInitConfigCmd(),
	)
	return root
}

func newRotationCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rotation <input> <output> <degrees>",
		Short: "Rotate each slice about the image center",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			angle, err := parseNumber("angle", args[2])
			if err != nil {
				return err
			}
			return run(cmd, opts, &pipeline.Params{
				Operation:    pipeline.OpRotation,
				InputPath:    args[0],
				OutputPath:   args[1],
				AngleDegrees: angle,
			})
		},
	}
}

func newTranslationCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "translation <input> <output> <dx> <dy>",
		Short: "Shift the volume within the x-y plane",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			dx, err := parseNumber("dx", args[2])
			if err != nil {
				return err
			}
			dy, err := parseNumber("dy", args[3])
			if err != nil {
				return err
			}
			return run(cmd, opts, &pipeline.Params{
				Operation:  pipeline.OpTranslation,
				InputPath:  args[0],
				OutputPath: args[1],
				Shift:      [2]float64{dx, dy},
			})
		},
	}
}

func newScalingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scaling <input> <output> <factor>",
		Short: "Scale the volume in x and y about the central voxel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			factor, err := parseNumber("scale factor", args[2])
			if err != nil {
				return err
			}
			return run(cmd, opts, &pipeline.Params{
				Operation:   pipeline.OpScaling,
				InputPath:   args[0],
				OutputPath:  args[1],
				ScaleFactor: factor,
			})
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a configuration file with default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	}
}

func parseNumber(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return v, nil
}

// applyConfig fills the run parameters from the configuration file and then
// from any flag given explicitly on the command line
func applyConfig(cmd *cobra.Command, opts *options, params *pipeline.Params) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("cores") {
		cfg.Processing.NumCores = opts.numCores
	}
	if flags.Changed("interpolation") {
		cfg.Processing.Interpolation = opts.interpolation
	}
	if flags.Changed("save-intermediary") {
		cfg.Output.SaveIntermediaryResults = opts.saveIntermediary
	}
	if flags.Changed("intermediary-dir") {
		cfg.Output.IntermediaryDir = opts.intermediaryDir
	}
	if flags.Changed("compress") {
		cfg.Output.Compress = opts.compress
	}
	if flags.Changed("verbose") {
		cfg.Output.Verbose = opts.verbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch params.Operation {
	case pipeline.OpRotation:
		params.DefaultValue = cfg.Defaults.RotationFill
	case pipeline.OpTranslation:
		params.DefaultValue = cfg.Defaults.TranslationFill
	case pipeline.OpScaling:
		params.DefaultValue = cfg.Defaults.ScalingFill
	}
	if flags.Changed("default") {
		params.DefaultValue = opts.defaultValue
	}

	params.NumCores = cfg.Processing.NumCores
	params.Interpolation = cfg.Processing.Interpolation
	params.Compress = cfg.Output.Compress
	params.SaveIntermediaryResults = cfg.Output.SaveIntermediaryResults
	params.IntermediaryDir = cfg.Output.IntermediaryDir

	var diag io.Writer
	if cfg.Output.Verbose {
		diag = cmd.ErrOrStderr()
	}
	pipeline.SetLogWriters(pipeline.LogWriters{Ops: cmd.ErrOrStderr(), Diag: diag})
	return nil
}

// run executes one operation and prints a summary
func run(cmd *cobra.Command, opts *options, params *pipeline.Params) error {
	if err := applyConfig(cmd, opts, params); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	p := pipeline.NewPipeline(params)
	startTime := time.Now()
	if err := p.Process(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", params.Operation, err)
	}
	processingTime := time.Since(startTime)

	out := cmd.OutOrStdout()
	metrics := p.Metrics()
	fmt.Fprintf(out, "%s completed in %.2f seconds\n", params.Operation, processingTime.Seconds())
	fmt.Fprintf(out, "Output volume saved to: %s\n", params.OutputPath)
	fmt.Fprintf(out, "Voxels at default value %d: %.1f%%\n", params.DefaultValue, metrics.DefaultFraction*100)
	fmt.Fprintf(out, "RMSE vs input: %.3f, SSIM vs input: %.3f\n", metrics.RMSE, metrics.SSIM)

	if params.SaveIntermediaryResults {
		fmt.Fprintf(out, "Intermediary results saved to: %s\n", params.IntermediaryDir)
	}
	return nil
}
