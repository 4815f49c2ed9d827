package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvariantViolation marks a computed rate or score outside its valid range reaching a
// result constructor. It indicates a defect in the computation that produced the value.
var ErrInvariantViolation = errors.New("invariant violation")

func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s = %v is outside [0, 1]", ErrInvariantViolation, field, v)
	}
	return nil
}

func checkCoefficient(field string, v float64) error {
	if math.IsNaN(v) || v < -1 || v > 1 {
		return fmt.Errorf("%w: %s = %v is outside [-1, 1]", ErrInvariantViolation, field, v)
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: %s = %v is negative", ErrInvariantViolation, field, v)
	}
	return nil
}

// ─── Pattern analysis ─────────────────────────────────────────────────────────

// PatternKind names the grouping a frequency pattern was mined from.
type PatternKind string

const (
	PatternKindHourly PatternKind = "hourly"
	PatternKindDaily  PatternKind = "daily"
	PatternKindLevel  PatternKind = "level"
	PatternKindType   PatternKind = "type"
)

// FrequencyPattern is a recurring grouping of detections.
type FrequencyPattern struct {
	Kind        PatternKind   `json:"kind"`
	Name        string        `json:"name"`
	Interval    time.Duration `json:"interval_ns"`
	Occurrences int           `json:"occurrences"`
	Confidence  float64       `json:"confidence"`
}

// CorrelationKind names how two signals were found to be related.
type CorrelationKind string

const (
	CorrelationTemporal CorrelationKind = "temporal"
	CorrelationLevel    CorrelationKind = "level"
	CorrelationType     CorrelationKind = "type"
)

// Correlation relates the analysed signal to another signal.
type Correlation struct {
	RelatedSignalID string          `json:"related_signal_id"`
	Coefficient     float64         `json:"coefficient"`
	Kind            CorrelationKind `json:"kind"`
}

// PatternAnalysisResult is the outcome of mining one signal's detection window.
// Treat it as read-only once constructed.
type PatternAnalysisResult struct {
	SignalID                string                `json:"signal_id"`
	Window                  TimeWindow            `json:"window"`
	TotalAnomalies          int                   `json:"total_anomalies"`
	TypeDistribution        map[AnomalyType]int   `json:"type_distribution"`
	LevelDistribution       map[AnomalyLevel]int  `json:"level_distribution"`
	FrequencyPatterns       []FrequencyPattern    `json:"frequency_patterns"`
	Correlations            []Correlation         `json:"correlations"`
	MeanDetectionDurationMs float64               `json:"mean_detection_duration_ms"`
	FalsePositiveRate       float64               `json:"false_positive_rate"`
	Summary                 string                `json:"summary"`
}

// NewPatternAnalysisResult validates a draft result and returns an independent copy.
func NewPatternAnalysisResult(draft PatternAnalysisResult) (*PatternAnalysisResult, error) {
	if draft.TotalAnomalies < 0 {
		return nil, fmt.Errorf("%w: total anomalies %d is negative", ErrInvariantViolation, draft.TotalAnomalies)
	}
	if err := checkUnit("false_positive_rate", draft.FalsePositiveRate); err != nil {
		return nil, err
	}
	if err := checkNonNegative("mean_detection_duration_ms", draft.MeanDetectionDurationMs); err != nil {
		return nil, err
	}
	for _, p := range draft.FrequencyPatterns {
		if err := checkUnit("frequency_pattern["+p.Name+"].confidence", p.Confidence); err != nil {
			return nil, err
		}
	}
	for _, c := range draft.Correlations {
		if err := checkCoefficient("correlation["+c.RelatedSignalID+"].coefficient", c.Coefficient); err != nil {
			return nil, err
		}
	}

	res := draft
	res.TypeDistribution = make(map[AnomalyType]int, len(draft.TypeDistribution))
	for k, v := range draft.TypeDistribution {
		res.TypeDistribution[k] = v
	}
	res.LevelDistribution = make(map[AnomalyLevel]int, len(draft.LevelDistribution))
	for k, v := range draft.LevelDistribution {
		res.LevelDistribution[k] = v
	}
	res.FrequencyPatterns = append([]FrequencyPattern{}, draft.FrequencyPatterns...)
	res.Correlations = append([]Correlation{}, draft.Correlations...)
	return &res, nil
}

// EmptyPatternAnalysis is the valid result for a window without detections.
func EmptyPatternAnalysis(signalID string, window TimeWindow) *PatternAnalysisResult {
	return &PatternAnalysisResult{
		SignalID:          signalID,
		Window:            window,
		TypeDistribution:  map[AnomalyType]int{},
		LevelDistribution: map[AnomalyLevel]int{},
		FrequencyPatterns: []FrequencyPattern{},
		Correlations:      []Correlation{},
		Summary: fmt.Sprintf("No anomalies were detected for signal %s between %s and %s.",
			signalID, window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339)),
	}
}

// ─── Threshold optimisation ───────────────────────────────────────────────────

// OptimalThresholdResult is a recommended static band for one value sample.
type OptimalThresholdResult struct {
	RecommendedUpper          float64        `json:"recommended_upper"`
	RecommendedLower          float64        `json:"recommended_lower"`
	Mean                      float64        `json:"mean"`
	Median                    float64        `json:"median"`
	StdDev                    float64        `json:"std_dev"`
	SampleSize                int            `json:"sample_size"`
	ExpectedFalsePositiveRate float64        `json:"expected_false_positive_rate"`
	ExpectedTruePositiveRate  float64        `json:"expected_true_positive_rate"`
	Method                    string         `json:"method"`
	Metadata                  map[string]any `json:"metadata"`
}

// Validate checks the probability-like fields.
func (r *OptimalThresholdResult) Validate() error {
	if err := checkUnit("expected_false_positive_rate", r.ExpectedFalsePositiveRate); err != nil {
		return err
	}
	if err := checkUnit("expected_true_positive_rate", r.ExpectedTruePositiveRate); err != nil {
		return err
	}
	if r.RecommendedLower > r.RecommendedUpper {
		return fmt.Errorf("%w: lower threshold %v exceeds upper threshold %v",
			ErrInvariantViolation, r.RecommendedLower, r.RecommendedUpper)
	}
	return nil
}

// OutlierMethod selects one of the interchangeable outlier detectors.
type OutlierMethod string

const (
	OutlierMethodIQR            OutlierMethod = "iqr"
	OutlierMethodZScore         OutlierMethod = "z_score"
	OutlierMethodModifiedZScore OutlierMethod = "modified_z_score"
	OutlierMethodMovingAverage  OutlierMethod = "moving_average"
)

// Outlier is one offending point of a sample.
type Outlier struct {
	Index          int     `json:"index"`
	Value          float64 `json:"value"`
	DeviationScore float64 `json:"deviation_score"`
	Reason         string  `json:"reason"`
}

// OutlierDetectionResult lists the points a method flagged and the bounds it used.
type OutlierDetectionResult struct {
	Method     OutlierMethod `json:"method"`
	Outliers   []Outlier     `json:"outliers"`
	LowerBound float64       `json:"lower_bound"`
	UpperBound float64       `json:"upper_bound"`
	SampleSize int           `json:"sample_size"`
}

// OutlierRate is the share of the sample that was flagged.
func (r *OutlierDetectionResult) OutlierRate() float64 {
	if r.SampleSize == 0 {
		return 0
	}
	return float64(len(r.Outliers)) / float64(r.SampleSize)
}

// TrendDirection summarises the global slope of a series.
type TrendDirection string

const (
	TrendIncreasing  TrendDirection = "increasing"
	TrendDecreasing  TrendDirection = "decreasing"
	TrendStable      TrendDirection = "stable"
	TrendOscillating TrendDirection = "oscillating"
)

// TrendAnalysis describes a whole series.
type TrendAnalysis struct {
	Direction       TrendDirection `json:"direction"`
	Slope           float64        `json:"slope"`
	Volatility      float64        `json:"volatility"`
	IsStationary    bool           `json:"is_stationary"`
	Autocorrelation float64        `json:"autocorrelation"`
}

// TimedValue is one observation of a signal.
type TimedValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DynamicThresholdPoint is the band computed for one timestamp.
type DynamicThresholdPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Predicted float64   `json:"predicted"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	IsAnomaly bool      `json:"is_anomaly"`
}

// DynamicThresholdResult is a rolling threshold band plus the trend it was adjusted by.
type DynamicThresholdResult struct {
	WindowSize int                     `json:"window_size"`
	Points     []DynamicThresholdPoint `json:"points"`
	Trend      TrendAnalysis           `json:"trend"`
}

// SignalCorrelation is the Pearson correlation of two signals' value samples.
type SignalCorrelation struct {
	SignalA     string  `json:"signal_a"`
	SignalB     string  `json:"signal_b"`
	Coefficient float64 `json:"coefficient"`
}

// MultivariateThresholdResult holds per-signal thresholds and greedy correlated pairs.
type MultivariateThresholdResult struct {
	Thresholds           map[string]*OptimalThresholdResult `json:"thresholds"`
	Skipped              []string                           `json:"skipped"`
	Correlations         []SignalCorrelation                `json:"correlations"`
	Groups               [][]string                         `json:"groups"`
	CorrelationThreshold float64                            `json:"correlation_threshold"`
}

// ─── Recommendations ──────────────────────────────────────────────────────────

// ThresholdRecommendation is one suggested parameter change.
type ThresholdRecommendation struct {
	ParameterName    string  `json:"parameter_name"`
	CurrentValue     float64 `json:"current_value"`
	RecommendedValue float64 `json:"recommended_value"`
	Reason           string  `json:"reason"`
	Priority         float64 `json:"priority"`
	Confidence       float64 `json:"confidence"`
}

// OptimizationMetrics is a snapshot of detector performance, measured or simulated.
type OptimizationMetrics struct {
	DetectionRate     float64 `json:"detection_rate"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	FalseNegativeRate float64 `json:"false_negative_rate"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	F1                float64 `json:"f1"`
	MeanDurationMs    float64 `json:"mean_duration_ms"`
}

func (m OptimizationMetrics) validate(prefix string) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"detection_rate", m.DetectionRate},
		{"false_positive_rate", m.FalsePositiveRate},
		{"false_negative_rate", m.FalseNegativeRate},
		{"precision", m.Precision},
		{"recall", m.Recall},
		{"f1", m.F1},
	}
	for _, f := range fields {
		if err := checkUnit(prefix+"."+f.name, f.v); err != nil {
			return err
		}
	}
	return checkNonNegative(prefix+".mean_duration_ms", m.MeanDurationMs)
}

// ThresholdRecommendationResult is the ranked set of suggestions for one detection logic.
type ThresholdRecommendationResult struct {
	DetectionLogicID      string                    `json:"detection_logic_id"`
	Window                TimeWindow                `json:"window"`
	TotalDetections       int                       `json:"total_detections"`
	Recommendations       []ThresholdRecommendation `json:"recommendations"`
	Current               OptimizationMetrics       `json:"current"`
	Predicted             OptimizationMetrics       `json:"predicted"`
	ExpectedF1Improvement float64                   `json:"expected_f1_improvement"`
	Summary               string                    `json:"summary"`
}

// NewThresholdRecommendationResult validates a draft result and returns an independent copy.
func NewThresholdRecommendationResult(draft ThresholdRecommendationResult) (*ThresholdRecommendationResult, error) {
	for _, r := range draft.Recommendations {
		if err := checkUnit("recommendation["+r.ParameterName+"].priority", r.Priority); err != nil {
			return nil, err
		}
		if err := checkUnit("recommendation["+r.ParameterName+"].confidence", r.Confidence); err != nil {
			return nil, err
		}
	}
	if err := draft.Current.validate("current"); err != nil {
		return nil, err
	}
	if err := draft.Predicted.validate("predicted"); err != nil {
		return nil, err
	}
	res := draft
	res.Recommendations = append([]ThresholdRecommendation{}, draft.Recommendations...)
	return &res, nil
}

// EmptyThresholdRecommendation is the valid result for a window without detections.
func EmptyThresholdRecommendation(logicID string, window TimeWindow) *ThresholdRecommendationResult {
	return &ThresholdRecommendationResult{
		DetectionLogicID: logicID,
		Window:           window,
		Recommendations:  []ThresholdRecommendation{},
		Summary: fmt.Sprintf("No detections were recorded for detection logic %s between %s and %s; "+
			"there is nothing to recalibrate.", logicID,
			window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339)),
	}
}

// ─── Accuracy ─────────────────────────────────────────────────────────────────

// ConfusionCounts are the raw TP/FP/TN/FN counts. FN and TN are estimates.
type ConfusionCounts struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Total is the sum of all four cells.
func (c ConfusionCounts) Total() int {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Precision is TP / (TP + FP).
func (c ConfusionCounts) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN).
func (c ConfusionCounts) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c ConfusionCounts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is (TP + TN) / total.
func (c ConfusionCounts) Accuracy() float64 {
	return ratio(c.TruePositives+c.TrueNegatives, c.Total())
}

// Specificity is TN / (TN + FP).
func (c ConfusionCounts) Specificity() float64 {
	return ratio(c.TrueNegatives, c.TrueNegatives+c.FalsePositives)
}

// TypeAccuracy is the accuracy breakdown for one anomaly type.
type TypeAccuracy struct {
	Type           AnomalyType `json:"type"`
	Total          int         `json:"total"`
	TruePositives  int         `json:"true_positives"`
	FalsePositives int         `json:"false_positives"`
	Precision      float64     `json:"precision"`
}

// BucketAccuracy is the accuracy breakdown for one time bucket.
type BucketAccuracy struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Total          int       `json:"total"`
	TruePositives  int       `json:"true_positives"`
	FalsePositives int       `json:"false_positives"`
	Precision      float64   `json:"precision"`
}

// DetectionAccuracyMetrics is the detector quality report for one detection logic.
// Derived rates are always recomputed from Counts by NewDetectionAccuracyMetrics.
type DetectionAccuracyMetrics struct {
	DetectionLogicID      string           `json:"detection_logic_id"`
	Window                TimeWindow       `json:"window"`
	TotalDetections       int              `json:"total_detections"`
	Counts                ConfusionCounts  `json:"counts"`
	Precision             float64          `json:"precision"`
	Recall                float64          `json:"recall"`
	F1                    float64          `json:"f1"`
	Accuracy              float64          `json:"accuracy"`
	Specificity           float64          `json:"specificity"`
	MeanDetectionTimeMs   float64          `json:"mean_detection_time_ms"`
	MedianDetectionTimeMs float64          `json:"median_detection_time_ms"`
	TypeAccuracy          []TypeAccuracy   `json:"type_accuracy"`
	BucketAccuracy        []BucketAccuracy `json:"bucket_accuracy"`
	Summary               string           `json:"summary"`
}

// NewDetectionAccuracyMetrics recomputes the derived rates from the draft's counts,
// validates everything and returns an independent copy. Any derived values already set on
// the draft are ignored.
func NewDetectionAccuracyMetrics(draft DetectionAccuracyMetrics) (*DetectionAccuracyMetrics, error) {
	c := draft.Counts
	if c.TruePositives < 0 || c.FalsePositives < 0 || c.TrueNegatives < 0 || c.FalseNegatives < 0 {
		return nil, fmt.Errorf("%w: negative confusion count %+v", ErrInvariantViolation, c)
	}
	res := draft
	res.Precision = c.Precision()
	res.Recall = c.Recall()
	res.F1 = c.F1()
	res.Accuracy = c.Accuracy()
	res.Specificity = c.Specificity()

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"precision", res.Precision},
		{"recall", res.Recall},
		{"f1", res.F1},
		{"accuracy", res.Accuracy},
		{"specificity", res.Specificity},
	} {
		if err := checkUnit(f.name, f.v); err != nil {
			return nil, err
		}
	}
	if err := checkNonNegative("mean_detection_time_ms", res.MeanDetectionTimeMs); err != nil {
		return nil, err
	}
	if err := checkNonNegative("median_detection_time_ms", res.MedianDetectionTimeMs); err != nil {
		return nil, err
	}
	for _, t := range res.TypeAccuracy {
		if err := checkUnit("type_accuracy["+string(t.Type)+"].precision", t.Precision); err != nil {
			return nil, err
		}
	}
	for _, b := range res.BucketAccuracy {
		if err := checkUnit("bucket_accuracy.precision", b.Precision); err != nil {
			return nil, err
		}
	}
	res.TypeAccuracy = append([]TypeAccuracy{}, draft.TypeAccuracy...)
	res.BucketAccuracy = append([]BucketAccuracy{}, draft.BucketAccuracy...)
	return &res, nil
}

// EmptyDetectionAccuracy is the valid result for a window without detections.
func EmptyDetectionAccuracy(logicID string, window TimeWindow) *DetectionAccuracyMetrics {
	return &DetectionAccuracyMetrics{
		DetectionLogicID: logicID,
		Window:           window,
		TypeAccuracy:     []TypeAccuracy{},
		BucketAccuracy:   []BucketAccuracy{},
		Summary: fmt.Sprintf("No detections were recorded for detection logic %s between %s and %s; "+
			"accuracy cannot be assessed for this window.", logicID,
			window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339)),
	}
}
