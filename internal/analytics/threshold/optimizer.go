// Package threshold computes detection thresholds from historical CAN signal values.
//
// Methods, all classical statistics:
//
//  1. Optimal static threshold
//     - Percentile bounds (default 5th/95th) intersected with the 3-sigma band of the
//       sample after 3-sigma outlier removal
//     - The intersection never widens the percentile bounds
//
//  2. Outlier detection (mutually exclusive methods)
//     - IQR fences: Q1 - 1.5*IQR, Q3 + 1.5*IQR
//     - Z-score: |z| > 3
//     - Modified Z-score: 0.6745*(x - median)/MAD, |mz| > 3.5
//     - Moving average: > 2 sigma from a centered local window
//
//  3. Dynamic threshold
//     - Sliding window band of +/- 2 window sigma around a trend-adjusted prediction
//     - Trend direction from OLS slope, volatility and lag-1 autocorrelation
//
//  4. Multivariate threshold
//     - Per-signal optimal threshold plus greedy pairing of correlated signals
package threshold

import (
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// Optimizer defines the threshold optimisation operations.
type Optimizer interface {
	// CalculateOptimalThreshold recommends a static band for a value sample.
	// Fails with ErrInsufficientSample below cfg.MinimumSampleSize.
	CalculateOptimalThreshold(values []float64, cfg OptimizationConfig) (*models.OptimalThresholdResult, error)

	// DetectOutliers flags offending points with one method.
	DetectOutliers(values []float64, method models.OutlierMethod, opts OutlierOptions) (*models.OutlierDetectionResult, error)

	// CalculateDynamicThreshold computes a rolling band for a time-ordered series.
	CalculateDynamicThreshold(series []models.TimedValue, windowSize int) (*models.DynamicThresholdResult, error)

	// OptimizeMultivariateThreshold thresholds each signal and pairs correlated signals.
	OptimizeMultivariateThreshold(signalValues map[string][]float64, correlationThreshold float64, cfg OptimizationConfig) (*models.MultivariateThresholdResult, error)
}
