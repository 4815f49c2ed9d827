package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
)

func newThresholdCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Statistical threshold tools over raw signal values",
		Long: `Value inputs are a JSON or YAML list of numbers, or a document with a "values" list.
Pass a file path or "-" to read stdin.`,
	}
	cmd.AddCommand(
		newOptimalCmd(a),
		newOutliersCmd(a),
		newDynamicCmd(a),
		newMultivariateCmd(a),
	)
	return cmd
}

type thresholdFlags struct {
	minSample  int
	upper      float64
	lower      float64
	targetFPR  float64
	seasonal   bool
	confidence float64
}

func (f *thresholdFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.minSample, "min-sample", 0, "minimum sample size")
	cmd.Flags().Float64Var(&f.upper, "upper-percentile", 0, "upper percentile in [0,1]")
	cmd.Flags().Float64Var(&f.lower, "lower-percentile", 0, "lower percentile in [0,1]")
	cmd.Flags().Float64Var(&f.targetFPR, "target-fpr", 0, "target false positive rate in [0,1]")
	cmd.Flags().Float64Var(&f.confidence, "confidence", 0, "confidence level in [0,1]")
	cmd.Flags().BoolVar(&f.seasonal, "seasonal", false, "check for seasonality")
}

// overlay applies the flags the user actually set over base. It returns nil when none were set
// so the service falls back to its configured defaults.
func (f *thresholdFlags) overlay(cmd *cobra.Command, base threshold.OptimizationConfig) *threshold.OptimizationConfig {
	changed := false
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
			changed = true
		}
	}
	set("min-sample", func() { base.MinimumSampleSize = f.minSample })
	set("upper-percentile", func() { base.UpperPercentile = f.upper })
	set("lower-percentile", func() { base.LowerPercentile = f.lower })
	set("target-fpr", func() { base.TargetFalsePositiveRate = f.targetFPR })
	set("confidence", func() { base.ConfidenceLevel = f.confidence })
	set("seasonal", func() { base.ConsiderSeasonality = f.seasonal })
	if !changed {
		return nil
	}
	return &base
}

func newOptimalCmd(a *app) *cobra.Command {
	var flags thresholdFlags
	cmd := &cobra.Command{
		Use:   "optimal [file|-]",
		Short: "Compute percentile-based upper and lower thresholds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := a.readValues(args)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.CalculateOptimalThreshold(ctx, values, flags.overlay(cmd, a.cfg.Analysis.Threshold))
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newOutliersCmd(a *app) *cobra.Command {
	var (
		method string
		window int
	)
	cmd := &cobra.Command{
		Use:   "outliers [file|-]",
		Short: "Flag outliers with iqr, z_score, modified_z_score or moving_average",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := a.readValues(args)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.DetectOutliers(ctx, values, models.OutlierMethod(method), threshold.OutlierOptions{WindowSize: window})
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", string(models.OutlierMethodIQR), "outlier method")
	cmd.Flags().IntVar(&window, "window", 0, "moving_average window width (0 uses the default)")
	return cmd
}

func newDynamicCmd(a *app) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "dynamic [file|-]",
		Short: "Compute a rolling threshold band over a time series",
		Long:  `Input is a JSON list of {"timestamp": RFC3339, "value": number} points in time order.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(args)
			if err != nil {
				return err
			}
			var series []models.TimedValue
			if err := json.Unmarshal(raw, &series); err != nil {
				return fmt.Errorf("decode series: %w", err)
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.CalculateDynamicThreshold(ctx, series, window)
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 10, "rolling window size")
	return cmd
}

func newMultivariateCmd(a *app) *cobra.Command {
	var (
		flags       thresholdFlags
		correlation float64
	)
	cmd := &cobra.Command{
		Use:   "multivariate [file|-]",
		Short: "Threshold several signals and group the correlated ones",
		Long:  `Input maps signal ids to value lists, in JSON or YAML.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(args)
			if err != nil {
				return err
			}
			var signals map[string][]float64
			if err := yaml.Unmarshal(raw, &signals); err != nil {
				return fmt.Errorf("decode signals: %w", err)
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.OptimizeMultivariateThreshold(ctx, signals, correlation, flags.overlay(cmd, a.cfg.Analysis.Threshold))
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&correlation, "correlation-threshold", 0.7, "minimum |r| for two signals to share a group")
	return cmd
}

// readValues decodes a plain list or a {values: [...]} document.
func (a *app) readValues(args []string) ([]float64, error) {
	raw, err := a.readInput(args)
	if err != nil {
		return nil, err
	}
	var values []float64
	if err := yaml.Unmarshal(raw, &values); err == nil {
		return values, nil
	}
	var doc struct {
		Values []float64 `yaml:"values"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return doc.Values, nil
}
