package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
)

// importFile is the bundle accepted by "anomalyctl import".
type importFile struct {
	DetectionLogics  []models.DetectionLogic  `json:"detection_logics"`
	DetectionResults []models.DetectionResult `json:"detection_results"`
}

type importSummary struct {
	Logics   int `json:"logics"`
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file|-]",
		Short: "Load detection logics and results into the store",
		Long: `Reads a JSON document with "detection_logics" and "detection_results" arrays.
Logics are upserted; results whose id already exists are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(args)
			if err != nil {
				return err
			}
			var in importFile
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				return fmt.Errorf("decode import file: %w", err)
			}

			return a.withService(cmd.Context(), func(ctx context.Context, svc service.AnalysisService) error {
				sum := importSummary{Received: len(in.DetectionResults)}
				for i := range in.DetectionLogics {
					if err := svc.UpsertDetectionLogic(ctx, &in.DetectionLogics[i]); err != nil {
						return fmt.Errorf("detection logic %q: %w", in.DetectionLogics[i].ID, err)
					}
					sum.Logics++
				}
				if len(in.DetectionResults) > 0 {
					n, err := svc.ImportDetectionResults(ctx, in.DetectionResults)
					if err != nil {
						return err
					}
					sum.Inserted = n
				}
				return render(a.stdout, a.output, sum)
			})
		},
	}
}
