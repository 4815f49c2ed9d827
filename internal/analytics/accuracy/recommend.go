package accuracy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// Rule bands. Each rule maps its trigger value linearly from the low to the high end of its
// band onto t in [0, 1].
const (
	highFPRTrigger = 0.15
	highFPRBandTop = 0.30

	lowDetectionRateTrigger = 0.7
	lowDetectionRateMaxFPR  = 0.05

	lowConfidenceCutoff  = 0.6
	lowConfidenceTrigger = 0.3
	lowConfidenceBandTop = 0.6
	confidenceFloorStep  = 0.1
	confidenceFloorCap   = 0.95

	warningRatioTrigger = 5.0
	warningRatioBandTop = 20.0

	slowDetection        = time.Second
	slowShareTrigger     = 0.2
	slowShareBandTop     = 0.5
	peakHourMinSample    = 10
	peakHourRatioTrigger = 3.0
	peakHourRatioBandTop = 12.0

	advancedOptimizerMinSample = 100
	advancedOutlierMinSample   = 50
	outlierRateTrigger         = 0.05
	outlierRateBandTop         = 0.25
	relativeChangeTrigger      = 0.05
	relativeChangeBandTop      = 0.5

	defaultMultiplierName = "ThresholdMultiplier"
)

// interpolate maps v onto [0, 1] across the band from low to high. high may be below low.
func interpolate(v, low, high float64) float64 {
	if high == low {
		return 1
	}
	t := (v - low) / (high - low)
	return math.Max(0, math.Min(1, t))
}

// sampleFactor discounts confidence for small windows.
func sampleFactor(n int) float64 {
	return math.Max(0.3, math.Min(1, float64(n)/100))
}

func recommendation(name string, current, recommended float64, t float64, n int, reason string) models.ThresholdRecommendation {
	return models.ThresholdRecommendation{
		ParameterName:    name,
		CurrentValue:     current,
		RecommendedValue: recommended,
		Reason:           reason,
		Priority:         0.5 + 0.5*t,
		Confidence:       sampleFactor(n) * (0.5 + 0.5*t),
	}
}

// shift moves a threshold by a relative amount. Positive amounts make upper-bound
// parameters stricter (detect less) by raising them, and lower-bound parameters stricter
// by lowering them.
func shift(p models.LogicParameter, amount float64) float64 {
	delta := math.Abs(p.Value) * amount
	if p.Value == 0 {
		delta = amount
	}
	if p.IsLowerBound() {
		return p.Value - delta
	}
	return p.Value + delta
}

func thresholdParameter(logic *models.DetectionLogic) models.LogicParameter {
	if p, ok := logic.ThresholdParameter(); ok {
		return p
	}
	return models.LogicParameter{Name: defaultMultiplierName, Type: "double", Value: 1}
}

// currentMetrics derives the measured side of the snapshot from the estimated matrix.
func currentMetrics(detections []models.DetectionResult, c models.ConfusionCounts) models.OptimizationMetrics {
	n := float64(len(detections))
	var totalMs float64
	for _, d := range detections {
		totalMs += float64(d.Duration) / float64(time.Millisecond)
	}
	fnr := 0.0
	if c.TruePositives+c.FalseNegatives > 0 {
		fnr = float64(c.FalseNegatives) / float64(c.TruePositives+c.FalseNegatives)
	}
	return models.OptimizationMetrics{
		DetectionRate:     float64(c.TruePositives) / n,
		FalsePositiveRate: float64(c.FalsePositives) / n,
		FalseNegativeRate: fnr,
		Precision:         c.Precision(),
		Recall:            c.Recall(),
		F1:                c.F1(),
		MeanDurationMs:    totalMs / n,
	}
}

// predictedMetrics is a blunt what-if: a 10% relative gain on the rates, 10% fewer false
// positives and 5% fewer false negatives.
func predictedMetrics(cur models.OptimizationMetrics) models.OptimizationMetrics {
	gain := func(v float64) float64 { return math.Min(1, v*1.1) }
	return models.OptimizationMetrics{
		DetectionRate:     gain(cur.DetectionRate),
		FalsePositiveRate: cur.FalsePositiveRate * 0.9,
		FalseNegativeRate: cur.FalseNegativeRate * 0.95,
		Precision:         gain(cur.Precision),
		Recall:            gain(cur.Recall),
		F1:                gain(cur.F1),
		MeanDurationMs:    cur.MeanDurationMs,
	}
}

// ruleRecommendations applies the independent rules to one detection window.
func ruleRecommendations(detections []models.DetectionResult, logic *models.DetectionLogic, m models.OptimizationMetrics) []models.ThresholdRecommendation {
	n := len(detections)
	thr := thresholdParameter(logic)
	out := make([]models.ThresholdRecommendation, 0)

	// 1. Too many false positives: tighten.
	if m.FalsePositiveRate > highFPRTrigger {
		adj := math.Min(0.5, 2*m.FalsePositiveRate)
		t := interpolate(m.FalsePositiveRate, highFPRTrigger, highFPRBandTop)
		out = append(out, recommendation(thr.Name, thr.Value, shift(thr, adj), t, n,
			fmt.Sprintf("High false positive rate (%.1f%%): tighten %s by %.0f%% to suppress spurious detections",
				m.FalsePositiveRate*100, thr.Name, adj*100)))
	}

	// 2. Missing events while being precise: loosen.
	if m.DetectionRate < lowDetectionRateTrigger && m.FalsePositiveRate < lowDetectionRateMaxFPR {
		adj := math.Min(0.3, 1.5*(1-m.DetectionRate))
		t := interpolate(m.DetectionRate, lowDetectionRateTrigger, 0)
		out = append(out, recommendation(thr.Name, thr.Value, shift(thr, -adj), t, n,
			fmt.Sprintf("Low detection rate (%.1f%%) with few false positives (%.1f%%): relax %s by %.0f%% to catch more anomalies",
				m.DetectionRate*100, m.FalsePositiveRate*100, thr.Name, adj*100)))
	}

	// 3. Low-confidence detections.
	lowConf := 0
	for _, d := range detections {
		if d.Confidence < lowConfidenceCutoff {
			lowConf++
		}
	}
	if share := float64(lowConf) / float64(n); share >= lowConfidenceTrigger {
		current := lowConfidenceCutoff
		if p, ok := logic.Parameter("MinConfidence"); ok {
			current = p.Value
		}
		t := interpolate(share, lowConfidenceTrigger, lowConfidenceBandTop)
		out = append(out, recommendation("MinConfidence", current, math.Min(confidenceFloorCap, current+confidenceFloorStep), t, n,
			fmt.Sprintf("%.1f%% of detections have confidence below %.1f: raise the confidence floor",
				share*100, lowConfidenceCutoff)))
	}

	// 4. Warnings drown out severe events.
	levels := countLevels(detections)
	severe := levels.critical + levels.fatal
	if levels.warning > int(warningRatioTrigger)*severe {
		// Without severe detections the ratio is unbounded: treat it as the top of the band.
		t := 1.0
		ratioText := fmt.Sprintf("%d warnings and no critical detections", levels.warning)
		if severe > 0 {
			ratio := float64(levels.warning) / float64(severe)
			t = interpolate(ratio, warningRatioTrigger, warningRatioBandTop)
			ratioText = fmt.Sprintf("Warnings outnumber critical detections %.1f to 1 (%d vs %d)", ratio, levels.warning, severe)
		}
		warn := models.LogicParameter{Name: "WarningThreshold", Type: thr.Type, Value: thr.Value}
		if p, ok := logic.Parameter("WarningThreshold"); ok {
			warn = p
		}
		adj := 0.1 + 0.1*t
		out = append(out, recommendation(warn.Name, warn.Value, shift(warn, adj), t, n,
			fmt.Sprintf("%s: make warning criteria %.0f%% stricter", ratioText, adj*100)))
	}

	// 5. Slow detections.
	slow := 0
	var totalMs float64
	for _, d := range detections {
		totalMs += float64(d.Duration) / float64(time.Millisecond)
		if d.Duration > slowDetection {
			slow++
		}
	}
	if share := float64(slow) / float64(n); share >= slowShareTrigger {
		t := interpolate(share, slowShareTrigger, slowShareBandTop)
		out = append(out, recommendation("MaxDetectionDurationMs", totalMs/float64(n), float64(slowDetection/time.Millisecond), t, n,
			fmt.Sprintf("%.1f%% of detections took longer than %s: simplify the detection algorithm or its threshold logic",
				share*100, slowDetection)))
	}

	// 6. Detections cluster in one hour of the day.
	if n >= peakHourMinSample {
		var hours [24]int
		for _, d := range detections {
			hours[d.DetectedAt.UTC().Hour()]++
		}
		peak := 0
		for h := range hours {
			if hours[h] > hours[peak] {
				peak = h
			}
		}
		ratio := float64(hours[peak]) / (float64(n) / 24)
		if ratio >= peakHourRatioTrigger {
			t := interpolate(ratio, peakHourRatioTrigger, peakHourRatioBandTop)
			adj := 0.1 + 0.2*t
			out = append(out, recommendation(fmt.Sprintf("%s@%02d:00", thr.Name, peak), thr.Value, shift(thr, adj), t, n,
				fmt.Sprintf("%d of %d detections (%.1fx the uniform share) occur between %02d:00 and %02d:00 UTC: use a time-of-day aware threshold %.0f%% stricter in that hour",
					hours[peak], n, ratio, peak, (peak+1)%24, adj*100)))
		}
	}
	return out
}

// statisticalRecommendations runs the threshold optimizer and the IQR pass over raw signal values.
func (e *Engine) statisticalRecommendations(detections []models.DetectionResult, logic *models.DetectionLogic) ([]models.ThresholdRecommendation, error) {
	n := len(detections)
	values := make([]float64, n)
	for i, d := range detections {
		values[i] = d.SignalValue
	}
	out := make([]models.ThresholdRecommendation, 0)

	if n >= advancedOptimizerMinSample {
		res, err := e.optimizer.CalculateOptimalThreshold(values, e.opts.Threshold)
		switch {
		case errors.Is(err, threshold.ErrInsufficientSample):
			e.logger.Debug("skipping optimizer pass", zap.Error(err))
		case err != nil:
			return nil, fmt.Errorf("optimal threshold: %w", err)
		default:
			out = append(out, boundRecommendation(logic, []string{"MaxThreshold", "UpperThreshold"}, "UpperThreshold",
				res.RecommendedUpper, res, n))
			out = append(out, boundRecommendation(logic, []string{"MinThreshold", "LowerThreshold"}, "LowerThreshold",
				res.RecommendedLower, res, n))
		}
	}

	if n >= advancedOutlierMinSample {
		res, err := e.optimizer.DetectOutliers(values, models.OutlierMethodIQR, threshold.OutlierOptions{})
		if err != nil {
			return nil, fmt.Errorf("outlier pass: %w", err)
		}
		if rate := res.OutlierRate(); rate > outlierRateTrigger {
			current := 0.0
			if p, ok := logic.Parameter("OutlierFilter"); ok {
				current = p.Value
			}
			t := interpolate(rate, outlierRateTrigger, outlierRateBandTop)
			out = append(out, recommendation("OutlierFilter", current, 1, t, n,
				fmt.Sprintf("%.1f%% of triggering values fall outside the IQR fences [%.4g, %.4g]: enable an outlier pre-filter",
					rate*100, res.LowerBound, res.UpperBound)))
		}
	}
	return out, nil
}

func boundRecommendation(logic *models.DetectionLogic, names []string, fallback string, recommended float64,
	res *models.OptimalThresholdResult, n int) models.ThresholdRecommendation {

	name, current, found := fallback, 0.0, false
	for _, candidate := range names {
		if p, ok := logic.Parameter(candidate); ok {
			name, current, found = p.Name, p.Value, true
			break
		}
	}

	t := 0.5
	if found {
		scale := math.Abs(current)
		if scale == 0 {
			scale = 1
		}
		t = interpolate(math.Abs(recommended-current)/scale, relativeChangeTrigger, relativeChangeBandTop)
	}
	reason := fmt.Sprintf("Statistical optimum from %d signal values (mean %.4g, std dev %.4g, expected false positive rate %.1f%%)",
		res.SampleSize, res.Mean, res.StdDev, res.ExpectedFalsePositiveRate*100)
	if !found {
		reason += "; no matching parameter is configured"
	}
	return recommendation(name, current, recommended, t, n, reason)
}

func rank(recs []models.ThresholdRecommendation, limit int) []models.ThresholdRecommendation {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].ParameterName < recs[j].ParameterName
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// RecommendThresholds ranks rule-based recommendations for logicID inside window.
func (e *Engine) RecommendThresholds(ctx context.Context, logicID string, window models.TimeWindow) (*models.ThresholdRecommendationResult, error) {
	return e.recommend(ctx, logicID, window, false)
}

// RecommendThresholdsAdvanced adds optimizer- and outlier-based recommendations computed
// from the raw signal values.
func (e *Engine) RecommendThresholdsAdvanced(ctx context.Context, logicID string, window models.TimeWindow) (*models.ThresholdRecommendationResult, error) {
	return e.recommend(ctx, logicID, window, true)
}

func (e *Engine) recommend(ctx context.Context, logicID string, window models.TimeWindow, advanced bool) (*models.ThresholdRecommendationResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	logic, err := e.logics.GetDetectionLogic(ctx, logicID)
	if err != nil {
		return nil, fmt.Errorf("get detection logic %s: %w", logicID, err)
	}
	detections, err := e.detections(ctx, logicID, window)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return models.EmptyThresholdRecommendation(logicID, window), nil
	}

	counts := EstimateConfusion(detections, window, e.opts.NormalPointsPerHour)
	current := currentMetrics(detections, counts)

	recs := ruleRecommendations(detections, logic, current)
	limit := e.opts.MaxRecommendations
	if advanced {
		extra, err := e.statisticalRecommendations(detections, logic)
		if err != nil {
			return nil, err
		}
		recs = append(recs, extra...)
		limit = e.opts.MaxAdvancedRecommendations
	}
	recs = rank(recs, limit)

	predicted := current
	if len(recs) > 0 {
		predicted = predictedMetrics(current)
	}

	draft := models.ThresholdRecommendationResult{
		DetectionLogicID:      logicID,
		Window:                window,
		TotalDetections:       len(detections),
		Recommendations:       recs,
		Current:               current,
		Predicted:             predicted,
		ExpectedF1Improvement: predicted.F1 - current.F1,
	}
	draft.Summary = recommendationSummary(draft)
	return models.NewThresholdRecommendationResult(draft)
}

func recommendationSummary(r models.ThresholdRecommendationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysed %d detections of logic %s: detection rate %.1f%%, false positive rate %.1f%%, F1 %.3f.",
		r.TotalDetections, r.DetectionLogicID, r.Current.DetectionRate*100, r.Current.FalsePositiveRate*100, r.Current.F1)
	if len(r.Recommendations) == 0 {
		b.WriteString(" Current thresholds look well calibrated; no changes recommended.")
		return b.String()
	}
	top := r.Recommendations[0]
	fmt.Fprintf(&b, " %d recommendation(s); highest priority: %s %.4g -> %.4g (priority %.2f).",
		len(r.Recommendations), top.ParameterName, top.CurrentValue, top.RecommendedValue, top.Priority)
	fmt.Fprintf(&b, " Expected F1 improvement %+.3f (simulated).", r.ExpectedF1Improvement)
	return b.String()
}
