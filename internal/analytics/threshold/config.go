package threshold

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSample is returned when a value sample is smaller than the configured minimum.
	ErrInsufficientSample = errors.New("insufficient sample")
	// ErrInvalidConfig is returned for malformed optimizer configuration.
	ErrInvalidConfig = errors.New("invalid threshold configuration")
	// ErrUnknownMethod is returned for an unsupported outlier detection method.
	ErrUnknownMethod = errors.New("unknown outlier detection method")
)

// OptimizationConfig tunes the optimal threshold calculation. It is passed explicitly to every call.
type OptimizationConfig struct {
	TargetFalsePositiveRate float64 `json:"target_false_positive_rate" yaml:"target_false_positive_rate"`
	TargetTruePositiveRate  float64 `json:"target_true_positive_rate" yaml:"target_true_positive_rate"`
	ConfidenceLevel         float64 `json:"confidence_level" yaml:"confidence_level"`
	UpperPercentile         float64 `json:"upper_percentile" yaml:"upper_percentile"`
	LowerPercentile         float64 `json:"lower_percentile" yaml:"lower_percentile"`
	MinimumSampleSize       int     `json:"minimum_sample_size" yaml:"minimum_sample_size"`
	ConsiderSeasonality     bool    `json:"consider_seasonality" yaml:"consider_seasonality"`
}

// DefaultConfig returns the configuration used when callers have no preference.
func DefaultConfig() OptimizationConfig {
	return OptimizationConfig{
		TargetFalsePositiveRate: 0.05,
		TargetTruePositiveRate:  0.95,
		ConfidenceLevel:         0.95,
		UpperPercentile:         0.95,
		LowerPercentile:         0.05,
		MinimumSampleSize:       100,
		ConsiderSeasonality:     false,
	}
}

// Validate reports the first malformed field, wrapped in ErrInvalidConfig.
func (c OptimizationConfig) Validate() error {
	if c.MinimumSampleSize < 1 {
		return fmt.Errorf("%w: minimum_sample_size must be at least 1, got %d", ErrInvalidConfig, c.MinimumSampleSize)
	}
	unit := []struct {
		name string
		v    float64
	}{
		{"target_false_positive_rate", c.TargetFalsePositiveRate},
		{"target_true_positive_rate", c.TargetTruePositiveRate},
		{"confidence_level", c.ConfidenceLevel},
		{"upper_percentile", c.UpperPercentile},
		{"lower_percentile", c.LowerPercentile},
	}
	for _, f := range unit {
		if !(f.v >= 0 && f.v <= 1) {
			return fmt.Errorf("%w: %s must be within [0, 1], got %v", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.LowerPercentile >= c.UpperPercentile {
		return fmt.Errorf("%w: lower_percentile %v must be below upper_percentile %v",
			ErrInvalidConfig, c.LowerPercentile, c.UpperPercentile)
	}
	return nil
}

// OutlierOptions tunes DetectOutliers. Zero values select the defaults.
type OutlierOptions struct {
	// WindowSize is the centered window width of the moving average method. Default 20.
	WindowSize int `json:"window_size,omitempty"`
}

const (
	sigmaRule              = 3.0
	iqrFence               = 1.5
	modifiedZThreshold     = 3.5
	movingAverageSigma     = 2.0
	defaultMovingWindow    = 20
	dynamicBandSigma       = 2.0
	oscillationThreshold   = -0.3
	trendVolatilityRatio   = 0.5
	stationarityTolerance  = 0.3
	seasonalityACThreshold = 0.5
)
