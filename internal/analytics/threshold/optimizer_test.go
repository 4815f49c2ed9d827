package threshold

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// normalSample returns n evenly spaced quantiles of N(mu, sigma), a deterministic stand-in
// for n draws from that distribution.
func normalSample(n int, mu, sigma float64) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	// Shuffle with a fixed seed so order-sensitive code does not see a sorted sample.
	r := rand.New(rand.NewPCG(7, 11))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func randomNormal(n int, mu, sigma float64, seed uint64) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma, Src: rand.New(rand.NewPCG(seed, seed+1))}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*OptimizationConfig)
	}{
		{"zero minimum sample", func(c *OptimizationConfig) { c.MinimumSampleSize = 0 }},
		{"percentile above one", func(c *OptimizationConfig) { c.UpperPercentile = 1.2 }},
		{"negative rate", func(c *OptimizationConfig) { c.TargetFalsePositiveRate = -0.1 }},
		{"inverted percentiles", func(c *OptimizationConfig) { c.LowerPercentile, c.UpperPercentile = 0.9, 0.1 }},
		{"NaN confidence", func(c *OptimizationConfig) { c.ConfidenceLevel = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestCalculateOptimalThreshold_NormalScenario(t *testing.T) {
	opt := NewOptimizer(nil)
	cfg := DefaultConfig()

	res, err := opt.CalculateOptimalThreshold(normalSample(1000, 100, 10), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1000, res.SampleSize)
	assert.InDelta(t, 100, res.Mean, 0.5)
	assert.InDelta(t, 100, res.Median, 0.5)
	assert.InDelta(t, 10, res.StdDev, 0.5)
	assert.GreaterOrEqual(t, res.RecommendedUpper, 116.0)
	assert.LessOrEqual(t, res.RecommendedUpper, 120.0)
	assert.GreaterOrEqual(t, res.RecommendedLower, 80.0)
	assert.LessOrEqual(t, res.RecommendedLower, 84.0)
	assert.Equal(t, MethodPercentileSigma, res.Method)

	assert.InDelta(t, 0.10, res.ExpectedFalsePositiveRate, 0.01)
	assert.GreaterOrEqual(t, res.ExpectedTruePositiveRate, 0.0)
	assert.LessOrEqual(t, res.ExpectedTruePositiveRate, 1.0)

	lo, ok := res.Metadata["mean_ci_lower"].(float64)
	require.True(t, ok)
	hi, ok := res.Metadata["mean_ci_upper"].(float64)
	require.True(t, ok)
	assert.Less(t, lo, res.Mean)
	assert.Greater(t, hi, res.Mean)
	assert.Equal(t, false, res.Metadata["bounds_fallback"])
}

func TestCalculateOptimalThreshold_NeverWidensPercentileBounds(t *testing.T) {
	opt := NewOptimizer(nil)
	cfg := DefaultConfig()
	cfg.MinimumSampleSize = 10

	samples := map[string][]float64{
		"normal":   randomNormal(500, 50, 5, 1),
		"skewed":   append(randomNormal(300, 10, 1, 2), 200, 250, 300),
		"wide":     randomNormal(200, 0, 1000, 3),
		"constant": {4, 4, 4, 4, 4, 4, 4, 4, 4, 4},
		"bimodal":  append(randomNormal(100, 0, 1, 4), randomNormal(100, 100, 1, 5)...),
	}
	for name, values := range samples {
		t.Run(name, func(t *testing.T) {
			res, err := opt.CalculateOptimalThreshold(values, cfg)
			require.NoError(t, err)
			rawUpper := res.Metadata["raw_upper_percentile"].(float64)
			rawLower := res.Metadata["raw_lower_percentile"].(float64)
			assert.LessOrEqual(t, res.RecommendedUpper, rawUpper)
			assert.GreaterOrEqual(t, res.RecommendedLower, rawLower)
			assert.LessOrEqual(t, res.RecommendedLower, res.RecommendedUpper)
		})
	}
}

func TestCalculateOptimalThreshold_OutliersCounted(t *testing.T) {
	opt := NewOptimizer(nil)
	cfg := DefaultConfig()

	values := append(normalSample(200, 10, 1), 80, -60)
	res, err := opt.CalculateOptimalThreshold(values, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metadata["outliers_removed"])
	assert.Equal(t, 1.0, res.ExpectedTruePositiveRate, "both injected outliers lie outside the final band")
}

func TestCalculateOptimalThreshold_Errors(t *testing.T) {
	opt := NewOptimizer(nil)

	_, err := opt.CalculateOptimalThreshold(make([]float64, 99), DefaultConfig())
	assert.True(t, errors.Is(err, ErrInsufficientSample))

	cfg := DefaultConfig()
	cfg.MinimumSampleSize = 0
	_, err = opt.CalculateOptimalThreshold(make([]float64, 500), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// Non-finite values do not count toward the sample.
	cfg = DefaultConfig()
	cfg.MinimumSampleSize = 3
	_, err = opt.CalculateOptimalThreshold([]float64{1, 2, math.NaN(), math.Inf(1)}, cfg)
	assert.ErrorIs(t, err, ErrInsufficientSample)
}

func TestCalculateOptimalThreshold_Idempotent(t *testing.T) {
	opt := NewOptimizer(nil)
	cfg := DefaultConfig()
	cfg.ConsiderSeasonality = true
	values := randomNormal(400, 20, 3, 9)

	first, err := opt.CalculateOptimalThreshold(values, cfg)
	require.NoError(t, err)
	second, err := opt.CalculateOptimalThreshold(values, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first.Metadata, "seasonality_detected")
}

func TestDetectOutliers_IQRInjectedExtreme(t *testing.T) {
	opt := NewOptimizer(nil)
	values := []float64{10.0, 10.1, 9.9, 10.2, 9.8, 10.05, 9.95, 10.15, 9.85, 10.0}
	extreme := 100 * 10.2
	values = append(values, extreme)

	res, err := opt.DetectOutliers(values, models.OutlierMethodIQR, OutlierOptions{})
	require.NoError(t, err)

	require.Len(t, res.Outliers, 1)
	assert.Equal(t, len(values)-1, res.Outliers[0].Index)
	assert.Equal(t, extreme, res.Outliers[0].Value)
	assert.Greater(t, res.Outliers[0].DeviationScore, 0.0)
	assert.NotEmpty(t, res.Outliers[0].Reason)
	assert.Less(t, res.UpperBound, extreme)
	assert.Equal(t, models.OutlierMethodIQR, res.Method)
}

func TestDetectOutliers_IQRZeroSpread(t *testing.T) {
	opt := NewOptimizer(nil)
	res, err := opt.DetectOutliers([]float64{5, 5, 5, 5, 5, 5, 9}, models.OutlierMethodIQR, OutlierOptions{})
	require.NoError(t, err)
	require.Len(t, res.Outliers, 1)
	assert.InDelta(t, 4.0, res.Outliers[0].DeviationScore, 1e-9, "distance is used when IQR is zero")
}

func TestDetectOutliers_ZScore(t *testing.T) {
	opt := NewOptimizer(nil)
	values := append(normalSample(100, 0, 1), 12)

	res, err := opt.DetectOutliers(values, models.OutlierMethodZScore, OutlierOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Outliers)
	last := res.Outliers[len(res.Outliers)-1]
	assert.Equal(t, 100, last.Index)
	assert.Greater(t, last.DeviationScore, 3.0)
	assert.Less(t, res.UpperBound, 12.0)

	res, err = opt.DetectOutliers([]float64{2, 2, 2}, models.OutlierMethodZScore, OutlierOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Outliers)
}

func TestDetectOutliers_ModifiedZScore(t *testing.T) {
	opt := NewOptimizer(nil)
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100}

	res, err := opt.DetectOutliers(values, models.OutlierMethodModifiedZScore, OutlierOptions{})
	require.NoError(t, err)
	require.Len(t, res.Outliers, 1)
	assert.Equal(t, 100.0, res.Outliers[0].Value)
	assert.Greater(t, res.Outliers[0].DeviationScore, 3.5)
	assert.Less(t, res.UpperBound, 100.0)
	assert.Greater(t, res.LowerBound, -20.0)

	// MAD of zero flags nothing.
	res, err = opt.DetectOutliers([]float64{3, 3, 3, 3, 50}, models.OutlierMethodModifiedZScore, OutlierOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Outliers)
}

func TestDetectOutliers_MovingAverage(t *testing.T) {
	opt := NewOptimizer(nil)
	values := make([]float64, 60)
	for i := range values {
		values[i] = float64(i) * 0.5
	}
	values[30] = 200

	res, err := opt.DetectOutliers(values, models.OutlierMethodMovingAverage, OutlierOptions{WindowSize: 10})
	require.NoError(t, err)
	require.Len(t, res.Outliers, 1)
	assert.Equal(t, 30, res.Outliers[0].Index)
	assert.Less(t, res.LowerBound, res.UpperBound)
}

func TestDetectOutliers_EmptyAndUnknown(t *testing.T) {
	opt := NewOptimizer(nil)

	for _, m := range []models.OutlierMethod{
		models.OutlierMethodIQR, models.OutlierMethodZScore,
		models.OutlierMethodModifiedZScore, models.OutlierMethodMovingAverage,
	} {
		res, err := opt.DetectOutliers(nil, m, OutlierOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Outliers)
		assert.Equal(t, 0, res.SampleSize)
	}

	_, err := opt.DetectOutliers([]float64{1, 2}, "isolation_forest", OutlierOptions{})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func series(values []float64) []models.TimedValue {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.TimedValue, len(values))
	for i, v := range values {
		out[i] = models.TimedValue{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func TestAnalyzeTrend(t *testing.T) {
	rising := make([]float64, 50)
	for i := range rising {
		rising[i] = float64(i)
	}
	tr := AnalyzeTrend(rising)
	assert.Equal(t, models.TrendIncreasing, tr.Direction)
	assert.InDelta(t, 1.0, tr.Slope, 1e-9)

	falling := make([]float64, 50)
	for i := range falling {
		falling[i] = -2 * float64(i)
	}
	assert.Equal(t, models.TrendDecreasing, AnalyzeTrend(falling).Direction)

	alternating := make([]float64, 40)
	for i := range alternating {
		alternating[i] = float64(1 - 2*(i%2))
	}
	tr = AnalyzeTrend(alternating)
	assert.Equal(t, models.TrendOscillating, tr.Direction)
	assert.Less(t, tr.Autocorrelation, -0.3)
	assert.True(t, tr.IsStationary)

	flat := AnalyzeTrend([]float64{5, 5, 5, 5, 5})
	assert.Equal(t, models.TrendStable, flat.Direction)
	assert.True(t, flat.IsStationary)

	// Quiet first half, noisy second half.
	shifted := append(randomNormal(50, 0, 0.1, 21), randomNormal(50, 0, 5, 22)...)
	assert.False(t, AnalyzeTrend(shifted).IsStationary)
}

func TestCalculateDynamicThreshold(t *testing.T) {
	opt := NewOptimizer(nil)

	values := make([]float64, 40)
	for i := range values {
		values[i] = 10 + float64(i%3)
	}
	values[35] = 90
	in := series(values)
	// Reverse the input to check that the series is re-ordered by time.
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}

	res, err := opt.CalculateDynamicThreshold(in, 10)
	require.NoError(t, err)
	require.Len(t, res.Points, 30)
	assert.Equal(t, 10, res.WindowSize)

	for k, p := range res.Points {
		assert.Equal(t, values[k+10], p.Value)
		assert.LessOrEqual(t, p.Lower, p.Predicted)
		assert.GreaterOrEqual(t, p.Upper, p.Predicted)
		if k > 0 {
			assert.True(t, p.Timestamp.After(res.Points[k-1].Timestamp))
		}
	}
	assert.True(t, res.Points[25].IsAnomaly, "spike at index 35")
	assert.False(t, res.Points[0].IsAnomaly)
}

func TestCalculateDynamicThreshold_TrendAdjusted(t *testing.T) {
	opt := NewOptimizer(nil)
	values := make([]float64, 30)
	for i := range values {
		values[i] = 2 * float64(i)
	}

	res, err := opt.CalculateDynamicThreshold(series(values), 5)
	require.NoError(t, err)
	for _, p := range res.Points {
		// A perfect line is predicted exactly.
		assert.InDelta(t, p.Value, p.Predicted, 1e-9)
		assert.False(t, p.IsAnomaly)
	}
}

func TestCalculateDynamicThreshold_Errors(t *testing.T) {
	opt := NewOptimizer(nil)
	_, err := opt.CalculateDynamicThreshold(series([]float64{1, 2, 3}), 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	res, err := opt.CalculateDynamicThreshold(series([]float64{1, 2, 3}), 5)
	require.NoError(t, err)
	assert.Empty(t, res.Points)
}

func TestOptimizeMultivariateThreshold(t *testing.T) {
	opt := NewOptimizer(nil)
	cfg := DefaultConfig()
	cfg.MinimumSampleSize = 50

	base := randomNormal(120, 0, 1, 31)
	scaled := make([]float64, len(base))
	inverted := make([]float64, len(base))
	for i, v := range base {
		scaled[i] = 3*v + 1
		inverted[i] = -v + 0.01*float64(i%5)
	}
	signals := map[string][]float64{
		"engine_rpm":    base,
		"vehicle_speed": scaled,
		"brake_torque":  inverted,
		"door_state":    randomNormal(30, 0, 1, 32),
		"cabin_temp":    randomNormal(120, 20, 2, 33),
	}

	res, err := opt.OptimizeMultivariateThreshold(signals, 0.8, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"door_state"}, res.Skipped)
	assert.Len(t, res.Thresholds, 4)
	assert.NotContains(t, res.Thresholds, "door_state")

	require.NotEmpty(t, res.Correlations)
	for i, c := range res.Correlations {
		assert.GreaterOrEqual(t, math.Abs(c.Coefficient), 0.8)
		if i > 0 {
			assert.LessOrEqual(t, math.Abs(c.Coefficient), math.Abs(res.Correlations[i-1].Coefficient))
		}
	}

	// engine_rpm/vehicle_speed is exactly linear, so it is paired first and brake_torque is left over.
	require.Len(t, res.Groups, 1)
	assert.ElementsMatch(t, []string{"engine_rpm", "vehicle_speed"}, res.Groups[0])

	again, err := opt.OptimizeMultivariateThreshold(signals, 0.8, cfg)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = opt.OptimizeMultivariateThreshold(signals, 1.5, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
