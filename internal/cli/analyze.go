package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
)

func newPatternsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns <signal-id>",
		Short: "Summarize the anomaly patterns of one signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.window()
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.AnalyzePatterns(ctx, args[0], w)
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
}

func newAccuracyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy <logic-id>",
		Short: "Estimate precision, recall and F1 of one detection logic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.window()
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.CalculateAccuracy(ctx, args[0], w)
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
}

func newRecommendCmd(a *app) *cobra.Command {
	var advanced bool
	cmd := &cobra.Command{
		Use:   "recommend <logic-id>",
		Short: "Propose threshold changes for one detection logic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.window()
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				res, err := svc.RecommendThresholds(ctx, args[0], w, advanced)
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, res)
			})
		},
	}
	cmd.Flags().BoolVar(&advanced, "advanced", false, "add the statistical optimization passes")
	return cmd
}
