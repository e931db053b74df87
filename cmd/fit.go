package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/pipeline"
	"github.com/cwbudde/multifit/internal/store"
	"github.com/spf13/cobra"
)

var (
	fitScenePath    string
	fitConfigPath   string
	fitFrom         string
	fitNumeric      bool
	fitPreview      bool
	fitPreviewScale int
	fitTraceParams  bool

	// Overrides, applied only when the flag is set.
	fitCheckGradient bool
	fitStrategy      int
	fitIterationMax  int
	fitTolerance     float64
	fitNMinPix       int
	fitGlobalSearch  bool
	fitSeed          int64
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a scene's model to its exposures",
	Long: `Fits the scene's model jointly to all of its exposures and stores the
result, the iteration trace and optional previews under <data-dir>/fits/<id>/.

Configuration comes from the built-in defaults, then --config, then flags.`,
	RunE: runFit,
}

func init() {
	f := fitCmd.Flags()
	f.StringVar(&fitScenePath, "scene", "", "Scene file path (required)")
	f.StringVar(&fitConfigPath, "config", "", "YAML configuration file")
	f.StringVar(&fitFrom, "from", "", "Start from the parameters of a stored fit")
	f.BoolVar(&fitNumeric, "numeric", false, "Use finite-difference gradients")
	f.BoolVar(&fitPreview, "preview", false, "Write data/model/residual PNGs")
	f.IntVar(&fitPreviewScale, "preview-scale", 4, "Preview upscaling factor")
	f.BoolVar(&fitTraceParams, "trace-params", false, "Store parameters in the trace")

	f.BoolVar(&fitCheckGradient, "check-gradient", false, "Compare analytic and numeric gradients first")
	f.IntVar(&fitStrategy, "strategy", 1, "Minimizer strategy (0-2)")
	f.IntVar(&fitIterationMax, "iteration-max", 500, "Maximum minimizer iterations")
	f.Float64Var(&fitTolerance, "tolerance", 0.1, "Convergence tolerance")
	f.IntVar(&fitNMinPix, "n-min-pix", 0, "Exposures need more than this many pixels")
	f.BoolVar(&fitGlobalSearch, "global-search", false, "Run a mayfly search before the gradient minimizer")
	f.Int64Var(&fitSeed, "seed", 42, "Random seed of the global search")

	fitCmd.MarkFlagRequired("scene")
	rootCmd.AddCommand(fitCmd)
}

// fitOptions merges the config file with the flags the user set.
func fitOptions(cmd *cobra.Command) (config.Options, error) {
	var opts config.Options
	if fitConfigPath != "" {
		var err error
		if opts, err = config.LoadOptions(fitConfigPath); err != nil {
			return opts, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("check-gradient") {
		opts.CheckGradient = &fitCheckGradient
	}
	if flags.Changed("strategy") {
		opts.Strategy = &fitStrategy
	}
	if flags.Changed("iteration-max") {
		opts.IterationMax = &fitIterationMax
	}
	if flags.Changed("tolerance") {
		opts.Tolerance = &fitTolerance
	}
	if flags.Changed("n-min-pix") {
		opts.NMinPix = &fitNMinPix
	}
	if flags.Changed("global-search") {
		opts.GlobalSearch = &fitGlobalSearch
	}
	if flags.Changed("seed") {
		opts.Seed = &fitSeed
	}
	return opts, nil
}

func runFit(cmd *cobra.Command, args []string) error {
	opts, err := fitOptions(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.New(opts)
	if err != nil {
		return err
	}

	fitStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	out, err := pipeline.Run(cmd.Context(), fitStore, pipeline.Request{
		ScenePath:    fitScenePath,
		Config:       cfg,
		Numeric:      fitNumeric,
		From:         fitFrom,
		Preview:      fitPreview,
		PreviewScale: fitPreviewScale,
		TraceParams:  fitTraceParams,
	}, nil)
	if err != nil {
		return err
	}

	printRecord(cmd.OutOrStdout(), out.Record)
	return nil
}

// printRecord writes a parameter table and the fit status.
func printRecord(out io.Writer, rec *store.Record) {
	fmt.Fprintf(out, "Fit %s (%s)\n", rec.ID, rec.Kind)
	fmt.Fprintf(out, "  value %.6g, valid %t, status %s, %d iterations, %d frames, %d pixels\n\n",
		rec.Value, rec.Valid, rec.Status, rec.Iterations, rec.Frames, rec.Pixels)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMETER\tVALUE\tERROR")
	fmt.Fprintln(w, "---------\t-----\t-----")
	for i, v := range rec.Parameters() {
		name := fmt.Sprintf("p%d", i)
		if i < len(rec.ParameterNames) {
			name = rec.ParameterNames[i]
		}
		errStr := "-"
		if i < len(rec.Errors) {
			errStr = fmt.Sprintf("%.4g", rec.Errors[i])
		}
		fmt.Fprintf(w, "%s\t%.6g\t%s\n", name, v, errStr)
	}
	w.Flush()

	if !rec.CovarianceValid {
		fmt.Fprintln(out, "\nCovariance is not available.")
	}
	if gc := rec.GradientCheck; gc != nil {
		fmt.Fprintf(out, "\nGradient check ratio (numeric/analytic): %v\n", gc.Ratio)
	}
}
