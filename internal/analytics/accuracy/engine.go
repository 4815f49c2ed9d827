// Package accuracy estimates how well a detection logic performs and turns that estimate
// into ranked threshold recommendations.
//
// Ground truth is partial: true and false positives come from operator labels, while false
// negatives and true negatives are heuristic estimates (see EstimateFalseNegatives and
// EstimateTrueNegatives). Every derived rate inherits that uncertainty.
package accuracy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/stats"
	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

// Options tunes the engine.
type Options struct {
	// NormalPointsPerHour is the assumed rate of non-anomalous data points used to estimate
	// true negatives. It is a placeholder until labelled traffic volumes are available.
	NormalPointsPerHour float64
	// MaxRecommendations caps RecommendThresholds.
	MaxRecommendations int
	// MaxAdvancedRecommendations caps RecommendThresholdsAdvanced.
	MaxAdvancedRecommendations int
	// Threshold configures the optimizer pass of RecommendThresholdsAdvanced.
	Threshold threshold.OptimizationConfig
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		NormalPointsPerHour:        100,
		MaxRecommendations:         5,
		MaxAdvancedRecommendations: 10,
		Threshold:                  threshold.DefaultConfig(),
	}
}

// Engine is the accuracy and recommendation engine. It is safe for concurrent use.
type Engine struct {
	results   store.DetectionResultReader
	logics    store.DetectionLogicReader
	optimizer threshold.Optimizer
	opts      Options
	logger    *zap.Logger
}

// NewEngine creates an engine. Zero option fields take defaults.
func NewEngine(reader store.Reader, optimizer threshold.Optimizer, opts Options, logger *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.NormalPointsPerHour <= 0 {
		opts.NormalPointsPerHour = def.NormalPointsPerHour
	}
	if opts.MaxRecommendations <= 0 {
		opts.MaxRecommendations = def.MaxRecommendations
	}
	if opts.MaxAdvancedRecommendations <= 0 {
		opts.MaxAdvancedRecommendations = def.MaxAdvancedRecommendations
	}
	if opts.Threshold == (threshold.OptimizationConfig{}) {
		opts.Threshold = def.Threshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if optimizer == nil {
		optimizer = threshold.NewOptimizer(logger)
	}
	return &Engine{results: reader, logics: reader, optimizer: optimizer, opts: opts, logger: logger}
}

func (e *Engine) detections(ctx context.Context, logicID string, window models.TimeWindow) ([]models.DetectionResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	results, err := e.results.QueryDetectionResults(ctx, store.Query{
		DetectionLogicID: logicID,
		From:             window.Start,
		To:               window.End,
	})
	if err != nil {
		return nil, fmt.Errorf("query detections of logic %s: %w", logicID, err)
	}
	return results, nil
}

// levelCounts tallies the levels that drive the false-negative estimate.
type levelCounts struct {
	warning, errs, critical, fatal int
}

func countLevels(detections []models.DetectionResult) levelCounts {
	var c levelCounts
	for _, d := range detections {
		switch d.Level {
		case models.AnomalyLevelWarning:
			c.warning++
		case models.AnomalyLevelError:
			c.errs++
		case models.AnomalyLevelCritical:
			c.critical++
		case models.AnomalyLevelFatal:
			c.fatal++
		}
	}
	return c
}

// EstimateFalseNegatives is a heuristic, not a measurement: it assumes a detector misses
// 2% of critical-or-worse events, 5% of errors and 10% of warnings, and at least one event.
func EstimateFalseNegatives(detections []models.DetectionResult) int {
	c := countLevels(detections)
	est := 0.02*float64(c.critical+c.fatal) + 0.05*float64(c.errs) + 0.10*float64(c.warning)
	return max(1, int(math.Round(est)))
}

// EstimateTrueNegatives is a heuristic, not a measurement: it assumes pointsPerHour normal
// data points over the window, minus the detections.
func EstimateTrueNegatives(window models.TimeWindow, detections int, pointsPerHour float64) int {
	expected := int(math.Round(window.Duration().Hours() * pointsPerHour))
	return max(0, expected-detections)
}

// EstimateConfusion builds the estimated confusion matrix of a detection window.
func EstimateConfusion(detections []models.DetectionResult, window models.TimeWindow, pointsPerHour float64) models.ConfusionCounts {
	var c models.ConfusionCounts
	for _, d := range detections {
		switch {
		case d.IsFalsePositive:
			c.FalsePositives++
		case d.IsTruePositive():
			c.TruePositives++
		}
	}
	c.FalseNegatives = EstimateFalseNegatives(detections)
	c.TrueNegatives = EstimateTrueNegatives(window, len(detections), pointsPerHour)
	return c
}

func precision(tp, fp int) float64 {
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// bucketSize is one hour for windows up to two days, one day beyond.
func bucketSize(window models.TimeWindow) time.Duration {
	if window.Duration() <= 48*time.Hour {
		return time.Hour
	}
	return 24 * time.Hour
}

// CalculateAccuracy reports the estimated detector quality of logicID inside window.
func (e *Engine) CalculateAccuracy(ctx context.Context, logicID string, window models.TimeWindow) (*models.DetectionAccuracyMetrics, error) {
	detections, err := e.detections(ctx, logicID, window)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return models.EmptyDetectionAccuracy(logicID, window), nil
	}

	durations := make([]float64, len(detections))
	for i, d := range detections {
		durations[i] = float64(d.Duration) / float64(time.Millisecond)
	}

	draft := models.DetectionAccuracyMetrics{
		DetectionLogicID:      logicID,
		Window:                window,
		TotalDetections:       len(detections),
		Counts:                EstimateConfusion(detections, window, e.opts.NormalPointsPerHour),
		MeanDetectionTimeMs:   stats.Mean(durations),
		MedianDetectionTimeMs: stats.Median(stats.Sorted(durations)),
		TypeAccuracy:          typeAccuracy(detections),
		BucketAccuracy:        bucketAccuracy(detections, window),
	}
	draft.Summary = accuracySummary(draft)
	return models.NewDetectionAccuracyMetrics(draft)
}

func typeAccuracy(detections []models.DetectionResult) []models.TypeAccuracy {
	byType := make(map[models.AnomalyType]*models.TypeAccuracy)
	for _, d := range detections {
		ta, ok := byType[d.Type]
		if !ok {
			ta = &models.TypeAccuracy{Type: d.Type}
			byType[d.Type] = ta
		}
		ta.Total++
		switch {
		case d.IsFalsePositive:
			ta.FalsePositives++
		case d.IsTruePositive():
			ta.TruePositives++
		}
	}

	out := make([]models.TypeAccuracy, 0, len(byType))
	for _, t := range models.AllAnomalyTypes() {
		if ta, ok := byType[t]; ok {
			ta.Precision = precision(ta.TruePositives, ta.FalsePositives)
			out = append(out, *ta)
			delete(byType, t)
		}
	}
	// Unknown types read from a store still get reported, in name order.
	rest := make([]models.AnomalyType, 0, len(byType))
	for t := range byType {
		rest = append(rest, t)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, t := range rest {
		ta := byType[t]
		ta.Precision = precision(ta.TruePositives, ta.FalsePositives)
		out = append(out, *ta)
	}
	return out
}

// bucketAccuracy reports non-empty buckets in time order.
func bucketAccuracy(detections []models.DetectionResult, window models.TimeWindow) []models.BucketAccuracy {
	size := bucketSize(window)
	buckets := make(map[int64]*models.BucketAccuracy)
	for _, d := range detections {
		idx := int64(d.DetectedAt.Sub(window.Start) / size)
		b, ok := buckets[idx]
		if !ok {
			start := window.Start.Add(time.Duration(idx) * size)
			end := start.Add(size)
			if end.After(window.End) {
				end = window.End
			}
			b = &models.BucketAccuracy{Start: start, End: end}
			buckets[idx] = b
		}
		b.Total++
		switch {
		case d.IsFalsePositive:
			b.FalsePositives++
		case d.IsTruePositive():
			b.TruePositives++
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.BucketAccuracy, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		b.Precision = precision(b.TruePositives, b.FalsePositives)
		out = append(out, *b)
	}
	return out
}

// accuracySummary describes a draft. Rates come from the draft's counts, the same way the
// constructor derives them.
func accuracySummary(m models.DetectionAccuracyMetrics) string {
	c := m.Counts
	precision := c.Precision()
	var b strings.Builder
	fmt.Fprintf(&b, "Detection logic %s produced %d detections between %s and %s. ",
		m.DetectionLogicID, m.TotalDetections,
		m.Window.Start.UTC().Format(time.RFC3339), m.Window.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Precision %.1f%%, recall %.1f%%, F1 %.3f, specificity %.1f%% (TP %d, FP %d, estimated FN %d, estimated TN %d).",
		precision*100, c.Recall()*100, c.F1(), c.Specificity()*100,
		m.Counts.TruePositives, m.Counts.FalsePositives, m.Counts.FalseNegatives, m.Counts.TrueNegatives)

	var worst *models.TypeAccuracy
	for i := range m.TypeAccuracy {
		ta := &m.TypeAccuracy[i]
		if ta.TruePositives+ta.FalsePositives == 0 {
			continue
		}
		if worst == nil || ta.Precision < worst.Precision {
			worst = ta
		}
	}
	if worst != nil && worst.Precision < precision {
		fmt.Fprintf(&b, " Lowest precision: %s at %.1f%%.", worst.Type, worst.Precision*100)
	}
	b.WriteString(" False negatives and true negatives are estimates, not measurements.")
	return b.String()
}
