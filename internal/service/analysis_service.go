// Package service is the single entry point the REST and CLI surfaces call into. It binds
// the analytics engines to the detection store and adds timeouts, tracing spans, metrics and
// logging around every operation.
package service

import (
	"context"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// Operation names used in metrics, spans and logs.
const (
	OpAnalyzePatterns        = "analyze_patterns"
	OpCalculateAccuracy      = "calculate_accuracy"
	OpRecommendThresholds    = "recommend_thresholds"
	OpRecommendAdvanced      = "recommend_thresholds_advanced"
	OpOptimalThreshold       = "optimal_threshold"
	OpDetectOutliers         = "detect_outliers"
	OpDynamicThreshold       = "dynamic_threshold"
	OpMultivariateThreshold  = "multivariate_threshold"
	OpImportDetectionResults = "import_detection_results"
	OpUpsertDetectionLogic   = "upsert_detection_logic"
)

// AnalysisService exposes every analytics operation.
type AnalysisService interface {
	// AnalyzePatterns summarizes the anomalies of one signal in window.
	AnalyzePatterns(ctx context.Context, signalID string, window models.TimeWindow) (*models.PatternAnalysisResult, error)

	// CalculateAccuracy estimates the detection quality of one detection logic.
	CalculateAccuracy(ctx context.Context, logicID string, window models.TimeWindow) (*models.DetectionAccuracyMetrics, error)

	// RecommendThresholds proposes parameter changes; advanced adds the statistical passes.
	RecommendThresholds(ctx context.Context, logicID string, window models.TimeWindow, advanced bool) (*models.ThresholdRecommendationResult, error)

	// CalculateOptimalThreshold runs the optimizer over values. A nil cfg selects the configured defaults.
	CalculateOptimalThreshold(ctx context.Context, values []float64, cfg *threshold.OptimizationConfig) (*models.OptimalThresholdResult, error)

	// DetectOutliers flags outliers with one method.
	DetectOutliers(ctx context.Context, values []float64, method models.OutlierMethod, opts threshold.OutlierOptions) (*models.OutlierDetectionResult, error)

	// CalculateDynamicThreshold computes a rolling band for a time-ordered series.
	CalculateDynamicThreshold(ctx context.Context, series []models.TimedValue, windowSize int) (*models.DynamicThresholdResult, error)

	// OptimizeMultivariateThreshold thresholds several signals and groups correlated ones.
	OptimizeMultivariateThreshold(ctx context.Context, signals map[string][]float64, correlationThreshold float64, cfg *threshold.OptimizationConfig) (*models.MultivariateThresholdResult, error)

	// ImportDetectionResults stores detection results, skipping ids that already exist.
	ImportDetectionResults(ctx context.Context, results []models.DetectionResult) (int, error)

	// UpsertDetectionLogic creates or replaces a detection logic definition.
	UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error

	// Ready reports whether the backing store is reachable.
	Ready(ctx context.Context) error
}
