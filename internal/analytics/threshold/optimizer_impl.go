package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/stats"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// MethodPercentileSigma labels results of CalculateOptimalThreshold.
const MethodPercentileSigma = "percentile_sigma_intersection"

// optimizerImpl is the concrete Optimizer. It holds no mutable state.
type optimizerImpl struct {
	logger *zap.Logger
}

// NewOptimizer creates a threshold optimizer.
func NewOptimizer(logger *zap.Logger) Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &optimizerImpl{logger: logger}
}

// CalculateOptimalThreshold intersects the percentile bounds with the cleaned 3-sigma band.
func (o *optimizerImpl) CalculateOptimalThreshold(values []float64, cfg OptimizationConfig) (*models.OptimalThresholdResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sample, dropped := finiteValues(values)
	n := len(sample)
	if n < cfg.MinimumSampleSize {
		return nil, fmt.Errorf("%w: need at least %d values, got %d", ErrInsufficientSample, cfg.MinimumSampleSize, n)
	}

	sorted := stats.Sorted(sample)
	mean := stats.Mean(sample)
	median := stats.Median(sorted)
	stdDev := stats.StandardDeviation(sample, mean)

	rawUpper := stats.Percentile(sorted, cfg.UpperPercentile)
	rawLower := stats.Percentile(sorted, cfg.LowerPercentile)

	// Remove 3-sigma outliers and recompute
	cleaned := make([]float64, 0, n)
	outliers := make([]float64, 0)
	for _, v := range sample {
		if stdDev > 0 && math.Abs(v-mean) > sigmaRule*stdDev {
			outliers = append(outliers, v)
			continue
		}
		cleaned = append(cleaned, v)
	}
	cleanedMean := stats.Mean(cleaned)
	cleanedStd := stats.StandardDeviation(cleaned, cleanedMean)
	sigmaUpper := cleanedMean + sigmaRule*cleanedStd
	sigmaLower := cleanedMean - sigmaRule*cleanedStd

	upper := math.Min(rawUpper, sigmaUpper)
	lower := math.Max(rawLower, sigmaLower)
	fallback := false
	if lower > upper {
		o.logger.Debug("percentile and sigma bounds do not overlap, using percentile bounds",
			zap.Float64("raw_lower", rawLower), zap.Float64("raw_upper", rawUpper),
			zap.Float64("sigma_lower", sigmaLower), zap.Float64("sigma_upper", sigmaUpper))
		upper, lower = rawUpper, rawLower
		fallback = true
	}

	outside := 0
	for _, v := range sample {
		if v < lower || v > upper {
			outside++
		}
	}
	fpr := float64(outside) / float64(n)

	tpr := 1 - fpr
	if len(outliers) > 0 {
		flagged := 0
		for _, v := range outliers {
			if v < lower || v > upper {
				flagged++
			}
		}
		tpr = float64(flagged) / float64(len(outliers))
	}

	meta := map[string]any{
		"outliers_removed":     len(outliers),
		"raw_upper_percentile": rawUpper,
		"raw_lower_percentile": rawLower,
		"sigma_upper":          sigmaUpper,
		"sigma_lower":          sigmaLower,
		"cleaned_mean":         cleanedMean,
		"cleaned_std_dev":      cleanedStd,
		"bounds_fallback":      fallback,
		"meets_target_fpr":     fpr <= cfg.TargetFalsePositiveRate,
		"meets_target_tpr":     tpr >= cfg.TargetTruePositiveRate,
		"consider_seasonality": cfg.ConsiderSeasonality,
	}
	if dropped > 0 {
		meta["non_finite_dropped"] = dropped
	}
	if lo, hi, ok := meanConfidenceInterval(sample, mean, stdDev, cfg.ConfidenceLevel); ok {
		meta["confidence_level"] = cfg.ConfidenceLevel
		meta["mean_ci_lower"] = lo
		meta["mean_ci_upper"] = hi
	}
	if cfg.ConsiderSeasonality {
		lag, ac := seasonalLag(sample)
		meta["seasonal_lag"] = lag
		meta["seasonal_autocorrelation"] = ac
		meta["seasonality_detected"] = lag > 0 && ac > seasonalityACThreshold
	}

	res := &models.OptimalThresholdResult{
		RecommendedUpper:          upper,
		RecommendedLower:          lower,
		Mean:                      mean,
		Median:                    median,
		StdDev:                    stdDev,
		SampleSize:                n,
		ExpectedFalsePositiveRate: fpr,
		ExpectedTruePositiveRate:  tpr,
		Method:                    MethodPercentileSigma,
		Metadata:                  meta,
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// meanConfidenceInterval returns the Student-t interval of the mean.
func meanConfidenceInterval(sample []float64, mean, popStd, level float64) (float64, float64, bool) {
	n := len(sample)
	if n < 2 || level <= 0 || level >= 1 {
		return 0, 0, false
	}
	sampleStd := popStd * math.Sqrt(float64(n)/float64(n-1))
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(1 - (1-level)/2)
	half := t * sampleStd / math.Sqrt(float64(n))
	if math.IsNaN(half) || math.IsInf(half, 0) {
		return 0, 0, false
	}
	return mean - half, mean + half, true
}

// seasonalLag probes the usual CAN logging periods (hourly samples over a day or a week).
func seasonalLag(sample []float64) (int, float64) {
	bestLag, best := 0, 0.0
	for _, lag := range []int{24, 168} {
		if lag >= len(sample)/2 {
			continue
		}
		if ac := stats.Autocorrelation(sample, lag); ac > best {
			bestLag, best = lag, ac
		}
	}
	return bestLag, best
}

func finiteValues(values []float64) ([]float64, int) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out, len(values) - len(out)
}

// DetectOutliers dispatches to one of the outlier methods.
func (o *optimizerImpl) DetectOutliers(values []float64, method models.OutlierMethod, opts OutlierOptions) (*models.OutlierDetectionResult, error) {
	var detect func([]float64, OutlierOptions) (float64, float64, []models.Outlier)
	switch method {
	case models.OutlierMethodIQR:
		detect = iqrOutliers
	case models.OutlierMethodZScore:
		detect = zScoreOutliers
	case models.OutlierMethodModifiedZScore:
		detect = modifiedZScoreOutliers
	case models.OutlierMethodMovingAverage:
		detect = movingAverageOutliers
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if opts.WindowSize < 0 {
		return nil, fmt.Errorf("%w: window_size must not be negative", ErrInvalidConfig)
	}

	sample, _ := finiteValues(values)
	res := &models.OutlierDetectionResult{
		Method:     method,
		Outliers:   []models.Outlier{},
		SampleSize: len(sample),
	}
	if len(sample) == 0 {
		return res, nil
	}
	res.LowerBound, res.UpperBound, res.Outliers = detect(sample, opts)
	return res, nil
}

func iqrOutliers(values []float64, _ OutlierOptions) (float64, float64, []models.Outlier) {
	q1, q3 := stats.Quartiles(stats.Sorted(values))
	iqr := q3 - q1
	lower := q1 - iqrFence*iqr
	upper := q3 + iqrFence*iqr

	out := make([]models.Outlier, 0)
	for i, v := range values {
		var dist float64
		var side string
		switch {
		case v < lower:
			dist, side = lower-v, "below lower"
		case v > upper:
			dist, side = v-upper, "above upper"
		default:
			continue
		}
		score := dist
		if iqr > 0 {
			score = dist / iqr
		}
		out = append(out, models.Outlier{
			Index:          i,
			Value:          v,
			DeviationScore: score,
			Reason:         fmt.Sprintf("value %.4f is %s IQR fence by %.2f IQR", v, side, score),
		})
	}
	return lower, upper, out
}

func zScoreOutliers(values []float64, _ OutlierOptions) (float64, float64, []models.Outlier) {
	mean := stats.Mean(values)
	std := stats.StandardDeviation(values, mean)
	lower, upper := mean-sigmaRule*std, mean+sigmaRule*std

	out := make([]models.Outlier, 0)
	if std == 0 {
		return lower, upper, out
	}
	for i, v := range values {
		z := (v - mean) / std
		if math.Abs(z) > sigmaRule {
			out = append(out, models.Outlier{
				Index:          i,
				Value:          v,
				DeviationScore: math.Abs(z),
				Reason:         fmt.Sprintf("z-score %.2f exceeds %.1f (mean %.4f, std dev %.4f)", z, sigmaRule, mean, std),
			})
		}
	}
	return lower, upper, out
}

func modifiedZScoreOutliers(values []float64, _ OutlierOptions) (float64, float64, []models.Outlier) {
	median := stats.Median(stats.Sorted(values))
	mad := stats.MedianAbsoluteDeviation(values)

	out := make([]models.Outlier, 0)
	if mad == 0 {
		return median, median, out
	}
	spread := modifiedZThreshold * mad / stats.MADScale
	for i, v := range values {
		mz := stats.MADScale * (v - median) / mad
		if math.Abs(mz) > modifiedZThreshold {
			out = append(out, models.Outlier{
				Index:          i,
				Value:          v,
				DeviationScore: math.Abs(mz),
				Reason:         fmt.Sprintf("modified z-score %.2f exceeds %.1f (median %.4f, MAD %.4f)", mz, modifiedZThreshold, median, mad),
			})
		}
	}
	return median - spread, median + spread, out
}

func movingAverageOutliers(values []float64, opts OutlierOptions) (float64, float64, []models.Outlier) {
	window := opts.WindowSize
	if window == 0 {
		window = defaultMovingWindow
	}
	n := len(values)
	globalMean := stats.Mean(values)
	globalStd := stats.StandardDeviation(values, globalMean)

	out := make([]models.Outlier, 0)
	for i, v := range values {
		start := i - window/2
		end := start + window
		if start < 0 {
			start = 0
		}
		if end > n {
			end = n
		}
		local := values[start:end]
		localMean := stats.Mean(local)
		localStd := stats.StandardDeviation(local, localMean)
		if localStd == 0 {
			continue
		}
		dev := math.Abs(v-localMean) / localStd
		if dev > movingAverageSigma {
			out = append(out, models.Outlier{
				Index:          i,
				Value:          v,
				DeviationScore: dev,
				Reason: fmt.Sprintf("value %.4f is %.2f std devs from local mean %.4f (window %d..%d)",
					v, dev, localMean, start, end-1),
			})
		}
	}
	return globalMean - movingAverageSigma*globalStd, globalMean + movingAverageSigma*globalStd, out
}

// AnalyzeTrend describes the direction, volatility and stationarity of a whole series.
func AnalyzeTrend(values []float64) models.TrendAnalysis {
	n := len(values)
	slope := stats.IndexSlope(values)
	volatility := stats.StandardDeviation(values, stats.Mean(values))
	ac := stats.Autocorrelation(values, 1)

	direction := models.TrendStable
	switch {
	case n < 2:
	case ac < oscillationThreshold:
		direction = models.TrendOscillating
	case slope != 0 && math.Abs(slope)*float64(n-1) >= trendVolatilityRatio*volatility:
		if slope > 0 {
			direction = models.TrendIncreasing
		} else {
			direction = models.TrendDecreasing
		}
	}

	return models.TrendAnalysis{
		Direction:       direction,
		Slope:           slope,
		Volatility:      volatility,
		IsStationary:    isStationary(values),
		Autocorrelation: ac,
	}
}

// isStationary compares first-half and second-half variance.
func isStationary(values []float64) bool {
	if len(values) < 4 {
		return true
	}
	half := len(values) / 2
	v1 := stats.Variance(values[:half])
	v2 := stats.Variance(values[half:])
	larger := math.Max(v1, v2)
	if larger == 0 {
		return true
	}
	return math.Abs(v1-v2)/larger <= stationarityTolerance
}

// CalculateDynamicThreshold slides a window over the series and projects the global trend
// from each window's center.
func (o *optimizerImpl) CalculateDynamicThreshold(series []models.TimedValue, windowSize int) (*models.DynamicThresholdResult, error) {
	if windowSize < 2 {
		return nil, fmt.Errorf("%w: window size must be at least 2, got %d", ErrInvalidConfig, windowSize)
	}

	ordered := make([]models.TimedValue, 0, len(series))
	for _, p := range series {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		ordered = append(ordered, p)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	values := make([]float64, len(ordered))
	for i, p := range ordered {
		values[i] = p.Value
	}
	trend := AnalyzeTrend(values)

	points := make([]models.DynamicThresholdPoint, 0)
	for i := windowSize; i < len(values); i++ {
		window := values[i-windowSize : i]
		wMean := stats.Mean(window)
		wStd := stats.StandardDeviation(window, wMean)
		center := float64(i-windowSize) + float64(windowSize-1)/2
		predicted := wMean + trend.Slope*(float64(i)-center)
		lower := predicted - dynamicBandSigma*wStd
		upper := predicted + dynamicBandSigma*wStd

		points = append(points, models.DynamicThresholdPoint{
			Timestamp: ordered[i].Timestamp,
			Value:     values[i],
			Predicted: predicted,
			Lower:     lower,
			Upper:     upper,
			IsAnomaly: values[i] < lower || values[i] > upper,
		})
	}

	return &models.DynamicThresholdResult{
		WindowSize: windowSize,
		Points:     points,
		Trend:      trend,
	}, nil
}

// OptimizeMultivariateThreshold thresholds each signal, then pairs correlated signals
// greedily. A signal placed in a pair is never reconsidered, so the grouping is not
// globally optimal.
func (o *optimizerImpl) OptimizeMultivariateThreshold(signalValues map[string][]float64, correlationThreshold float64, cfg OptimizationConfig) (*models.MultivariateThresholdResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !(correlationThreshold >= 0 && correlationThreshold <= 1) {
		return nil, fmt.Errorf("%w: correlation threshold must be within [0, 1], got %v", ErrInvalidConfig, correlationThreshold)
	}

	ids := make([]string, 0, len(signalValues))
	for id := range signalValues {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := &models.MultivariateThresholdResult{
		Thresholds:           make(map[string]*models.OptimalThresholdResult, len(ids)),
		Skipped:              []string{},
		Correlations:         []models.SignalCorrelation{},
		Groups:               [][]string{},
		CorrelationThreshold: correlationThreshold,
	}

	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		t, err := o.CalculateOptimalThreshold(signalValues[id], cfg)
		if errors.Is(err, ErrInsufficientSample) {
			o.logger.Debug("skipping signal with insufficient sample", zap.String("signal_id", id),
				zap.Int("sample_size", len(signalValues[id])))
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", id, err)
		}
		res.Thresholds[id] = t
		kept = append(kept, id)
	}

	for i := 0; i < len(kept); i++ {
		a, _ := finiteValues(signalValues[kept[i]])
		for j := i + 1; j < len(kept); j++ {
			b, _ := finiteValues(signalValues[kept[j]])
			m := min(len(a), len(b))
			r := stats.PearsonCorrelation(a[:m], b[:m])
			if math.Abs(r) >= correlationThreshold && r != 0 {
				res.Correlations = append(res.Correlations, models.SignalCorrelation{
					SignalA:     kept[i],
					SignalB:     kept[j],
					Coefficient: r,
				})
			}
		}
	}
	sort.SliceStable(res.Correlations, func(i, j int) bool {
		ci, cj := res.Correlations[i], res.Correlations[j]
		if ai, aj := math.Abs(ci.Coefficient), math.Abs(cj.Coefficient); ai != aj {
			return ai > aj
		}
		if ci.SignalA != cj.SignalA {
			return ci.SignalA < cj.SignalA
		}
		return ci.SignalB < cj.SignalB
	})

	used := make(map[string]bool, len(kept))
	for _, c := range res.Correlations {
		if used[c.SignalA] || used[c.SignalB] {
			continue
		}
		used[c.SignalA], used[c.SignalB] = true, true
		res.Groups = append(res.Groups, []string{c.SignalA, c.SignalB})
	}
	return res, nil
}
