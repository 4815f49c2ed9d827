package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	testWindow  = TimeWindow{Start: windowStart, End: windowStart.Add(24 * time.Hour)}
)

func TestAnomalyLevelOrderingAndText(t *testing.T) {
	assert.True(t, AnomalyLevelFatal.AtLeast(AnomalyLevelCritical))
	assert.False(t, AnomalyLevelWarning.AtLeast(AnomalyLevelError))
	assert.Equal(t, "Critical", AnomalyLevelCritical.String())

	level, err := ParseAnomalyLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, AnomalyLevelWarning, level)

	_, err = ParseAnomalyLevel("severe")
	assert.Error(t, err)

	out, err := json.Marshal(map[AnomalyLevel]int{AnomalyLevelError: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Error":2}`, string(out))

	var decoded map[AnomalyLevel]int
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 2, decoded[AnomalyLevelError])
}

func TestParseAnomalyType(t *testing.T) {
	typ, err := ParseAnomalyType("outofrange")
	require.NoError(t, err)
	assert.Equal(t, AnomalyTypeOutOfRange, typ)

	_, err = ParseAnomalyType("Drift")
	assert.Error(t, err)
	assert.Len(t, AllAnomalyTypes(), 7)
}

func TestThresholdParameter(t *testing.T) {
	logic := &DetectionLogic{
		ID: "logic-1",
		Parameters: []LogicParameter{
			{Name: "MinConfidence", Type: "double", Value: 0.5},
			{Name: "LowerThreshold", Type: "double", Value: 10},
			{Name: "MaxThreshold", Type: "double", Value: 90},
		},
	}
	p, ok := logic.ThresholdParameter()
	require.True(t, ok)
	assert.Equal(t, "MaxThreshold", p.Name)

	logic.Parameters = logic.Parameters[:2]
	p, ok = logic.ThresholdParameter()
	require.True(t, ok)
	assert.Equal(t, "LowerThreshold", p.Name)
	assert.True(t, p.IsLowerBound())

	var missing *DetectionLogic
	_, ok = missing.ThresholdParameter()
	assert.False(t, ok)
}

func TestTimeWindowValidate(t *testing.T) {
	assert.NoError(t, testWindow.Validate())
	assert.Equal(t, 24*time.Hour, testWindow.Duration())
	assert.True(t, testWindow.Contains(windowStart))

	_, err := NewTimeWindow(windowStart, windowStart)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = NewTimeWindow(windowStart, windowStart.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.ErrorIs(t, TimeWindow{}.Validate(), ErrInvalidWindow)
}

func TestNewPatternAnalysisResultRangeValidation(t *testing.T) {
	valid := PatternAnalysisResult{
		SignalID:          "sig",
		Window:            testWindow,
		TotalAnomalies:    3,
		TypeDistribution:  map[AnomalyType]int{AnomalyTypeStuck: 3},
		LevelDistribution: map[AnomalyLevel]int{AnomalyLevelError: 3},
		FrequencyPatterns: []FrequencyPattern{{Kind: PatternKindLevel, Name: "Error", Occurrences: 3, Confidence: 1}},
		Correlations:      []Correlation{{RelatedSignalID: "other", Coefficient: -0.5, Kind: CorrelationTemporal}},
		FalsePositiveRate: 0.33,
	}
	res, err := NewPatternAnalysisResult(valid)
	require.NoError(t, err)

	// The result owns its collections.
	valid.TypeDistribution[AnomalyTypeStuck] = 99
	valid.FrequencyPatterns[0].Confidence = 0.1
	assert.Equal(t, 3, res.TypeDistribution[AnomalyTypeStuck])
	assert.Equal(t, 1.0, res.FrequencyPatterns[0].Confidence)

	tests := []struct {
		name   string
		mutate func(*PatternAnalysisResult)
	}{
		{"fpr above one", func(r *PatternAnalysisResult) { r.FalsePositiveRate = 1.01 }},
		{"fpr NaN", func(r *PatternAnalysisResult) { r.FalsePositiveRate = math.NaN() }},
		{"confidence negative", func(r *PatternAnalysisResult) {
			r.FrequencyPatterns = []FrequencyPattern{{Name: "x", Confidence: -0.1}}
		}},
		{"coefficient below minus one", func(r *PatternAnalysisResult) {
			r.Correlations = []Correlation{{RelatedSignalID: "o", Coefficient: -1.2}}
		}},
		{"negative total", func(r *PatternAnalysisResult) { r.TotalAnomalies = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := PatternAnalysisResult{FalsePositiveRate: 0.1}
			tt.mutate(&draft)
			_, err := NewPatternAnalysisResult(draft)
			assert.ErrorIs(t, err, ErrInvariantViolation)
		})
	}
}

func TestEmptyVariantsHaveSummaries(t *testing.T) {
	p := EmptyPatternAnalysis("sig", testWindow)
	assert.Equal(t, 0, p.TotalAnomalies)
	assert.NotEmpty(t, p.Summary)
	assert.NotNil(t, p.FrequencyPatterns)

	a := EmptyDetectionAccuracy("logic", testWindow)
	assert.Equal(t, 0, a.TotalDetections)
	assert.NotEmpty(t, a.Summary)

	r := EmptyThresholdRecommendation("logic", testWindow)
	assert.Equal(t, 0, r.TotalDetections)
	assert.Empty(t, r.Recommendations)
	assert.NotEmpty(t, r.Summary)
}

func TestNewDetectionAccuracyMetricsRecomputesRates(t *testing.T) {
	draft := DetectionAccuracyMetrics{
		DetectionLogicID: "logic",
		Window:           testWindow,
		TotalDetections:  10,
		Counts:           ConfusionCounts{TruePositives: 6, FalsePositives: 2, TrueNegatives: 90, FalseNegatives: 2},
		// Caller-supplied rates are ignored.
		Precision: 7,
		F1:        -3,
		Summary:   "six of eight confirmed",
	}
	m, err := NewDetectionAccuracyMetrics(draft)
	require.NoError(t, err)
	assert.Equal(t, "six of eight confirmed", m.Summary)

	assert.InDelta(t, 0.75, m.Precision, 1e-12)
	assert.InDelta(t, 0.75, m.Recall, 1e-12)
	assert.InDelta(t, 2*m.Precision*m.Recall/(m.Precision+m.Recall), m.F1, 1e-12)
	assert.InDelta(t, 0.96, m.Accuracy, 1e-12)
	assert.InDelta(t, 90.0/92.0, m.Specificity, 1e-12)

	_, err = NewDetectionAccuracyMetrics(DetectionAccuracyMetrics{Counts: ConfusionCounts{FalsePositives: -1}})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = NewDetectionAccuracyMetrics(DetectionAccuracyMetrics{MeanDetectionTimeMs: -5})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestConfusionCountsF1Consistency(t *testing.T) {
	cases := []ConfusionCounts{
		{},
		{TruePositives: 0, FalsePositives: 5, FalseNegatives: 1},
		{TruePositives: 1, FalsePositives: 0, FalseNegatives: 0},
		{TruePositives: 13, FalsePositives: 7, FalseNegatives: 4, TrueNegatives: 300},
	}
	for _, c := range cases {
		p, r := c.Precision(), c.Recall()
		if p+r > 0 {
			assert.InDelta(t, 2*p*r/(p+r), c.F1(), 1e-12)
		} else {
			assert.Equal(t, 0.0, c.F1())
		}
		for _, v := range []float64{p, r, c.F1(), c.Accuracy(), c.Specificity()} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestNewThresholdRecommendationResultValidation(t *testing.T) {
	draft := ThresholdRecommendationResult{
		DetectionLogicID: "logic",
		Recommendations: []ThresholdRecommendation{
			{ParameterName: "MaxThreshold", Priority: 0.8, Confidence: 0.6},
		},
		Current:   OptimizationMetrics{DetectionRate: 0.5, Precision: 0.5, Recall: 0.5, F1: 0.5},
		Predicted: OptimizationMetrics{DetectionRate: 0.55, Precision: 0.55, Recall: 0.55, F1: 0.55},
	}
	res, err := NewThresholdRecommendationResult(draft)
	require.NoError(t, err)
	draft.Recommendations[0].Priority = 0.1
	assert.Equal(t, 0.8, res.Recommendations[0].Priority)

	draft.Recommendations[0].Confidence = 1.5
	_, err = NewThresholdRecommendationResult(draft)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	draft.Recommendations[0].Confidence = 0.5
	draft.Predicted.F1 = 1.1
	_, err = NewThresholdRecommendationResult(draft)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestOptimalThresholdResultValidate(t *testing.T) {
	r := &OptimalThresholdResult{RecommendedLower: 1, RecommendedUpper: 2, ExpectedFalsePositiveRate: 0.1, ExpectedTruePositiveRate: 0.9}
	assert.NoError(t, r.Validate())

	r.RecommendedLower = 3
	assert.ErrorIs(t, r.Validate(), ErrInvariantViolation)
}

func TestOutlierRate(t *testing.T) {
	r := &OutlierDetectionResult{Outliers: []Outlier{{}, {}}, SampleSize: 8}
	assert.Equal(t, 0.25, r.OutlierRate())
	assert.Equal(t, 0.0, (&OutlierDetectionResult{}).OutlierRate())
}

func TestDetectionResultValidate(t *testing.T) {
	valid := DetectionResult{SignalID: "rpm", DetectionLogicID: "L1", Type: AnomalyTypeStuck,
		Level: AnomalyLevelWarning, DetectedAt: windowStart, Confidence: 0.5}
	require.NoError(t, valid.Validate())

	cases := map[string]func(d *DetectionResult){
		"negative duration":    func(d *DetectionResult) { d.Duration = -time.Second },
		"confidence above one": func(d *DetectionResult) { d.Confidence = 1.5 },
		"confidence NaN":       func(d *DetectionResult) { d.Confidence = math.NaN() },
		"level out of range":   func(d *DetectionResult) { d.Level = AnomalyLevel(9) },
		"non-canonical type":   func(d *DetectionResult) { d.Type = "stuck" },
		"unknown type":         func(d *DetectionResult) { d.Type = "Bogus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := valid
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), ErrInvalidDetection)
		})
	}
}
