// Package pattern mines a signal's detection history for recurring frequency patterns and
// for other signals whose detections co-occur with it.
package pattern

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

const (
	temporalCorrelationThreshold    = 0.3
	categoricalCorrelationThreshold = 0.2
	minCoOccurrences                = 2
	hourSlots                       = 24
	daySlots                        = 7
	// confidence saturates when a bucket holds twice its uniform share
	saturationRatio = 2.0
)

// Options tunes the analyzer.
type Options struct {
	// CorrelationWindow is the half-width of the co-occurrence window around each detection.
	CorrelationWindow time.Duration
	// MaxConcurrentQueries bounds the parallel correlation reads.
	MaxConcurrentQueries int
	// MaxCorrelations caps the returned correlation list.
	MaxCorrelations int
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		CorrelationWindow:    5 * time.Minute,
		MaxConcurrentQueries: 8,
		MaxCorrelations:      10,
	}
}

// Analyzer is the pattern and correlation analyzer. It is safe for concurrent use.
type Analyzer struct {
	reader store.DetectionResultReader
	opts   Options
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer reading from reader. Zero option fields take defaults.
func NewAnalyzer(reader store.DetectionResultReader, opts Options, logger *zap.Logger) *Analyzer {
	def := DefaultOptions()
	if opts.CorrelationWindow <= 0 {
		opts.CorrelationWindow = def.CorrelationWindow
	}
	if opts.MaxConcurrentQueries <= 0 {
		opts.MaxConcurrentQueries = def.MaxConcurrentQueries
	}
	if opts.MaxCorrelations <= 0 {
		opts.MaxCorrelations = def.MaxCorrelations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{reader: reader, opts: opts, logger: logger}
}

// AnalyzePatterns analyses every detection of signalID inside window. A window without
// detections yields the empty result, not an error. Any store failure aborts the analysis.
func (a *Analyzer) AnalyzePatterns(ctx context.Context, signalID string, window models.TimeWindow) (*models.PatternAnalysisResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	detections, err := a.reader.QueryDetectionResults(ctx, store.Query{
		SignalID: signalID,
		From:     window.Start,
		To:       window.End,
	})
	if err != nil {
		return nil, fmt.Errorf("query detections of signal %s: %w", signalID, err)
	}
	if len(detections) == 0 {
		return models.EmptyPatternAnalysis(signalID, window), nil
	}

	typeDist, levelDist := distributions(detections)
	patterns := frequencyPatterns(detections, typeDist, levelDist, window)

	correlations, err := a.correlations(ctx, signalID, detections)
	if err != nil {
		return nil, err
	}

	var totalMs float64
	falsePositives := 0
	for _, d := range detections {
		totalMs += durationMs(d.Duration)
		if d.IsFalsePositive {
			falsePositives++
		}
	}
	total := len(detections)

	draft := models.PatternAnalysisResult{
		SignalID:                signalID,
		Window:                  window,
		TotalAnomalies:          total,
		TypeDistribution:        typeDist,
		LevelDistribution:       levelDist,
		FrequencyPatterns:       patterns,
		Correlations:            correlations,
		MeanDetectionDurationMs: totalMs / float64(total),
		FalsePositiveRate:       float64(falsePositives) / float64(total),
	}
	draft.Summary = summarize(draft)

	a.logger.Debug("pattern analysis complete",
		zap.String("signal_id", signalID),
		zap.Int("detections", total),
		zap.Int("patterns", len(patterns)),
		zap.Int("correlations", len(correlations)))

	return models.NewPatternAnalysisResult(draft)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func distributions(detections []models.DetectionResult) (map[models.AnomalyType]int, map[models.AnomalyLevel]int) {
	types := make(map[models.AnomalyType]int)
	levels := make(map[models.AnomalyLevel]int)
	for _, d := range detections {
		types[d.Type]++
		levels[d.Level]++
	}
	return types, levels
}

// slotConfidence compares a bucket with its uniform share.
func slotConfidence(count, total, slots int) float64 {
	expected := float64(total) / float64(slots)
	return math.Min(1, (float64(count)/expected)/saturationRatio)
}

// frequencyPatterns emits hourly, daily, level and type patterns, in that order, for every
// bucket holding more than one detection.
func frequencyPatterns(detections []models.DetectionResult, typeDist map[models.AnomalyType]int,
	levelDist map[models.AnomalyLevel]int, window models.TimeWindow) []models.FrequencyPattern {

	total := len(detections)
	var hours [hourSlots]int
	var days [daySlots]int
	for _, d := range detections {
		at := d.DetectedAt.UTC()
		hours[at.Hour()]++
		days[at.Weekday()]++
	}

	out := make([]models.FrequencyPattern, 0)
	for h, count := range hours {
		if count > 1 {
			out = append(out, models.FrequencyPattern{
				Kind:        models.PatternKindHourly,
				Name:        fmt.Sprintf("%02d:00-%02d:00 UTC", h, (h+1)%hourSlots),
				Interval:    time.Hour,
				Occurrences: count,
				Confidence:  slotConfidence(count, total, hourSlots),
			})
		}
	}
	for day, count := range days {
		if count > 1 {
			out = append(out, models.FrequencyPattern{
				Kind:        models.PatternKindDaily,
				Name:        time.Weekday(day).String(),
				Interval:    24 * time.Hour,
				Occurrences: count,
				Confidence:  slotConfidence(count, total, daySlots),
			})
		}
	}
	for _, level := range models.AllAnomalyLevels() {
		if count := levelDist[level]; count > 1 {
			out = append(out, models.FrequencyPattern{
				Kind:        models.PatternKindLevel,
				Name:        level.String(),
				Interval:    window.Duration(),
				Occurrences: count,
				Confidence:  float64(count) / float64(total),
			})
		}
	}
	for _, typ := range models.AllAnomalyTypes() {
		if count := typeDist[typ]; count > 1 {
			out = append(out, models.FrequencyPattern{
				Kind:        models.PatternKindType,
				Name:        string(typ),
				Interval:    window.Duration(),
				Occurrences: count,
				Confidence:  float64(count) / float64(total),
			})
		}
	}
	return out
}

// signalEvidence accumulates what one other signal did around the base detections.
type signalEvidence struct {
	candidates   map[string]struct{}
	temporalHits int
	levelHits    int
	typeHits     int
}

// correlations runs one windowed read per base detection, concurrently. Each read's
// result is stored at its detection's index, so the outcome does not depend on scheduling.
func (a *Analyzer) correlations(ctx context.Context, signalID string, detections []models.DetectionResult) ([]models.Correlation, error) {
	neighbours := make([][]models.DetectionResult, len(detections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.MaxConcurrentQueries)
	for i, d := range detections {
		g.Go(func() error {
			found, err := a.reader.QueryDetectionResults(gctx, store.Query{
				ExcludeSignalID: signalID,
				From:            d.DetectedAt.Add(-a.opts.CorrelationWindow),
				To:              d.DetectedAt.Add(a.opts.CorrelationWindow),
			})
			if err != nil {
				return fmt.Errorf("query detections around %s: %w", d.DetectedAt.UTC().Format(time.RFC3339), err)
			}
			neighbours[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	evidence := make(map[string]*signalEvidence)
	for i, base := range detections {
		temporal := make(map[string]bool)
		level := make(map[string]bool)
		typ := make(map[string]bool)
		for _, c := range neighbours[i] {
			if c.SignalID == signalID {
				continue
			}
			ev, ok := evidence[c.SignalID]
			if !ok {
				ev = &signalEvidence{candidates: make(map[string]struct{})}
				evidence[c.SignalID] = ev
			}
			ev.candidates[c.ID] = struct{}{}
			temporal[c.SignalID] = true
			if c.Level == base.Level {
				level[c.SignalID] = true
			}
			if c.Type == base.Type {
				typ[c.SignalID] = true
			}
		}
		for id := range temporal {
			evidence[id].temporalHits++
		}
		for id := range level {
			evidence[id].levelHits++
		}
		for id := range typ {
			evidence[id].typeHits++
		}
	}

	total := float64(len(detections))
	out := make([]models.Correlation, 0)
	for id, ev := range evidence {
		if len(ev.candidates) < minCoOccurrences {
			continue
		}
		if c := float64(ev.temporalHits) / total; math.Abs(c) > temporalCorrelationThreshold {
			out = append(out, models.Correlation{RelatedSignalID: id, Coefficient: c, Kind: models.CorrelationTemporal})
		}
		if c := float64(ev.levelHits) / total; c > categoricalCorrelationThreshold {
			out = append(out, models.Correlation{RelatedSignalID: id, Coefficient: c, Kind: models.CorrelationLevel})
		}
		if c := float64(ev.typeHits) / total; c > categoricalCorrelationThreshold {
			out = append(out, models.Correlation{RelatedSignalID: id, Coefficient: c, Kind: models.CorrelationType})
		}
	}

	kindRank := map[models.CorrelationKind]int{
		models.CorrelationTemporal: 0,
		models.CorrelationLevel:    1,
		models.CorrelationType:     2,
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i], out[j]
		if ai, aj := math.Abs(ci.Coefficient), math.Abs(cj.Coefficient); ai != aj {
			return ai > aj
		}
		if ci.RelatedSignalID != cj.RelatedSignalID {
			return ci.RelatedSignalID < cj.RelatedSignalID
		}
		return kindRank[ci.Kind] < kindRank[cj.Kind]
	})
	if len(out) > a.opts.MaxCorrelations {
		out = out[:a.opts.MaxCorrelations]
	}
	return out, nil
}

func summarize(r models.PatternAnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signal %s had %d anomalies between %s and %s",
		r.SignalID, r.TotalAnomalies,
		r.Window.Start.UTC().Format(time.RFC3339), r.Window.End.UTC().Format(time.RFC3339))

	if typ, n := dominantType(r.TypeDistribution); n > 0 {
		fmt.Fprintf(&b, "; most frequent type %s (%d)", typ, n)
	}
	if lvl, n := dominantLevel(r.LevelDistribution); n > 0 {
		fmt.Fprintf(&b, ", most frequent level %s (%d)", lvl, n)
	}
	fmt.Fprintf(&b, ". False-positive rate %.1f%%, mean detection time %.1f ms.",
		r.FalsePositiveRate*100, r.MeanDetectionDurationMs)

	if len(r.FrequencyPatterns) > 0 {
		strongest := r.FrequencyPatterns[0]
		for _, p := range r.FrequencyPatterns[1:] {
			if p.Confidence > strongest.Confidence {
				strongest = p
			}
		}
		fmt.Fprintf(&b, " Strongest %s pattern: %s (%d occurrences, confidence %.2f).",
			strongest.Kind, strongest.Name, strongest.Occurrences, strongest.Confidence)
	}
	if len(r.Correlations) > 0 {
		top := r.Correlations[0]
		fmt.Fprintf(&b, " Strongest correlation: %s (%s, %.2f).", top.RelatedSignalID, top.Kind, top.Coefficient)
	} else {
		b.WriteString(" No correlated signals found.")
	}
	return b.String()
}

func dominantType(dist map[models.AnomalyType]int) (models.AnomalyType, int) {
	var best models.AnomalyType
	n := 0
	for _, t := range models.AllAnomalyTypes() {
		if dist[t] > n {
			best, n = t, dist[t]
		}
	}
	return best, n
}

func dominantLevel(dist map[models.AnomalyLevel]int) (models.AnomalyLevel, int) {
	var best models.AnomalyLevel
	n := 0
	for _, l := range models.AllAnomalyLevels() {
		if dist[l] > n {
			best, n = l, dist[l]
		}
	}
	return best, n
}
