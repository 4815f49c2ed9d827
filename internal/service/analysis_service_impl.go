package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/accuracy"
	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/pattern"
	"github.com/ryuu1kyou/anomaly-analytics/internal/analytics/threshold"
	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/metrics"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/tracing"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

// ErrInvalidInput is returned for malformed requests that no engine error covers.
var ErrInvalidInput = errors.New("invalid input")

// Outcome labels of metrics.AnalysisTotal.
const (
	outcomeOK                 = "ok"
	outcomeEmpty              = "empty"
	outcomeInsufficientSample = "insufficient_sample"
	outcomeInvalidInput       = "invalid_input"
	outcomeNotFound           = "not_found"
	outcomeInvariant          = "invariant_violation"
	outcomeTimeout            = "timeout"
	outcomeUpstream           = "upstream_error"
)

type analysisService struct {
	store     store.Store
	patterns  *pattern.Analyzer
	accuracy  *accuracy.Engine
	optimizer threshold.Optimizer
	defaults  threshold.OptimizationConfig
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAnalysisService wires the analytics engines to st using the analysis section of cfg.
func NewAnalysisService(st store.Store, cfg *config.Config, log *zap.Logger) AnalysisService {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := cfg.Analysis
	optimizer := threshold.NewOptimizer(log.Named("threshold"))

	return &analysisService{
		store: st,
		patterns: pattern.NewAnalyzer(st, pattern.Options{
			CorrelationWindow:    a.CorrelationWindow,
			MaxConcurrentQueries: a.MaxConcurrentQueries,
			MaxCorrelations:      a.MaxCorrelations,
		}, log.Named("pattern")),
		accuracy: accuracy.NewEngine(st, optimizer, accuracy.Options{
			NormalPointsPerHour:        a.NormalPointsPerHour,
			MaxRecommendations:         a.MaxRecommendations,
			MaxAdvancedRecommendations: a.MaxAdvancedRecommendations,
			Threshold:                  a.Threshold,
		}, log.Named("accuracy")),
		optimizer: optimizer,
		defaults:  a.Threshold,
		timeout:   a.RequestTimeout,
		logger:    log,
	}
}

// run applies the request timeout and records span, metrics and logs for one operation.
// size reports how many detections or values the result covers; zero counts as empty.
func run[T any](ctx context.Context, s *analysisService, op string, attrs []attribute.KeyValue,
	fn func(context.Context) (T, error), size func(T) int) (T, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "analysis."+op, attrs...)
	defer span.End()

	log := logger.WithContext(ctx, s.logger).With(zap.String("operation", op))
	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)
	metrics.AnalysisDurationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	if err != nil {
		outcome := classify(err)
		metrics.AnalysisTotal.WithLabelValues(op, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		switch outcome {
		case outcomeInvariant:
			log.Error("analysis produced an invalid result", zap.Error(err))
		case outcomeUpstream, outcomeTimeout:
			log.Warn("analysis failed", zap.String("outcome", outcome), zap.Error(err))
		default:
			log.Debug("analysis rejected", zap.String("outcome", outcome), zap.Error(err))
		}
		var zero T
		return zero, err
	}

	n := size(result)
	metrics.DetectionsAnalyzed.WithLabelValues(op).Observe(float64(n))
	outcome := outcomeOK
	if n == 0 {
		outcome = outcomeEmpty
	}
	metrics.AnalysisTotal.WithLabelValues(op, outcome).Inc()
	span.SetAttributes(attribute.Int("analysis.size", n))
	log.Debug("analysis completed", zap.Int("size", n), zap.Duration("elapsed", elapsed))
	return result, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, models.ErrInvariantViolation):
		return outcomeInvariant
	case errors.Is(err, threshold.ErrInsufficientSample):
		return outcomeInsufficientSample
	case errors.Is(err, threshold.ErrInvalidConfig),
		errors.Is(err, threshold.ErrUnknownMethod),
		errors.Is(err, models.ErrInvalidWindow),
		errors.Is(err, ErrInvalidInput):
		return outcomeInvalidInput
	case errors.Is(err, store.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeUpstream
	}
}

func windowAttrs(key, id string, w models.TimeWindow) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(key, id),
		attribute.String("window.start", w.Start.UTC().Format(time.RFC3339)),
		attribute.String("window.end", w.End.UTC().Format(time.RFC3339)),
	}
}

func (s *analysisService) AnalyzePatterns(ctx context.Context, signalID string, window models.TimeWindow) (*models.PatternAnalysisResult, error) {
	if signalID == "" {
		return nil, fmt.Errorf("%w: signal id is required", ErrInvalidInput)
	}
	return run(ctx, s, OpAnalyzePatterns, windowAttrs("signal_id", signalID, window),
		func(ctx context.Context) (*models.PatternAnalysisResult, error) {
			return s.patterns.AnalyzePatterns(ctx, signalID, window)
		},
		func(r *models.PatternAnalysisResult) int { return r.TotalAnomalies })
}

func (s *analysisService) CalculateAccuracy(ctx context.Context, logicID string, window models.TimeWindow) (*models.DetectionAccuracyMetrics, error) {
	if logicID == "" {
		return nil, fmt.Errorf("%w: detection logic id is required", ErrInvalidInput)
	}
	return run(ctx, s, OpCalculateAccuracy, windowAttrs("detection_logic_id", logicID, window),
		func(ctx context.Context) (*models.DetectionAccuracyMetrics, error) {
			return s.accuracy.CalculateAccuracy(ctx, logicID, window)
		},
		func(r *models.DetectionAccuracyMetrics) int { return r.TotalDetections })
}

func (s *analysisService) RecommendThresholds(ctx context.Context, logicID string, window models.TimeWindow, advanced bool) (*models.ThresholdRecommendationResult, error) {
	if logicID == "" {
		return nil, fmt.Errorf("%w: detection logic id is required", ErrInvalidInput)
	}
	op, recommend := OpRecommendThresholds, s.accuracy.RecommendThresholds
	if advanced {
		op, recommend = OpRecommendAdvanced, s.accuracy.RecommendThresholdsAdvanced
	}
	result, err := run(ctx, s, op, windowAttrs("detection_logic_id", logicID, window),
		func(ctx context.Context) (*models.ThresholdRecommendationResult, error) {
			return recommend(ctx, logicID, window)
		},
		func(r *models.ThresholdRecommendationResult) int { return r.TotalDetections })
	if err != nil {
		return nil, err
	}
	for _, rec := range result.Recommendations {
		metrics.RecommendationsEmittedTotal.WithLabelValues(rec.ParameterName).Inc()
	}
	return result, nil
}

func (s *analysisService) thresholdConfig(cfg *threshold.OptimizationConfig) threshold.OptimizationConfig {
	if cfg == nil {
		return s.defaults
	}
	return *cfg
}

func (s *analysisService) CalculateOptimalThreshold(ctx context.Context, values []float64, cfg *threshold.OptimizationConfig) (*models.OptimalThresholdResult, error) {
	c := s.thresholdConfig(cfg)
	return run(ctx, s, OpOptimalThreshold, []attribute.KeyValue{attribute.Int("values", len(values))},
		func(context.Context) (*models.OptimalThresholdResult, error) {
			return s.optimizer.CalculateOptimalThreshold(values, c)
		},
		func(r *models.OptimalThresholdResult) int { return r.SampleSize })
}

func (s *analysisService) DetectOutliers(ctx context.Context, values []float64, method models.OutlierMethod, opts threshold.OutlierOptions) (*models.OutlierDetectionResult, error) {
	attrs := []attribute.KeyValue{attribute.Int("values", len(values)), attribute.String("method", string(method))}
	return run(ctx, s, OpDetectOutliers, attrs,
		func(context.Context) (*models.OutlierDetectionResult, error) {
			return s.optimizer.DetectOutliers(values, method, opts)
		},
		func(r *models.OutlierDetectionResult) int { return r.SampleSize })
}

func (s *analysisService) CalculateDynamicThreshold(ctx context.Context, series []models.TimedValue, windowSize int) (*models.DynamicThresholdResult, error) {
	attrs := []attribute.KeyValue{attribute.Int("values", len(series)), attribute.Int("window_size", windowSize)}
	return run(ctx, s, OpDynamicThreshold, attrs,
		func(context.Context) (*models.DynamicThresholdResult, error) {
			return s.optimizer.CalculateDynamicThreshold(series, windowSize)
		},
		func(r *models.DynamicThresholdResult) int { return len(r.Points) })
}

func (s *analysisService) OptimizeMultivariateThreshold(ctx context.Context, signals map[string][]float64, correlationThreshold float64, cfg *threshold.OptimizationConfig) (*models.MultivariateThresholdResult, error) {
	c := s.thresholdConfig(cfg)
	attrs := []attribute.KeyValue{attribute.Int("signals", len(signals)), attribute.Float64("correlation_threshold", correlationThreshold)}
	return run(ctx, s, OpMultivariateThreshold, attrs,
		func(context.Context) (*models.MultivariateThresholdResult, error) {
			return s.optimizer.OptimizeMultivariateThreshold(signals, correlationThreshold, c)
		},
		func(r *models.MultivariateThresholdResult) int { return len(r.Thresholds) })
}

func (s *analysisService) ImportDetectionResults(ctx context.Context, results []models.DetectionResult) (int, error) {
	normalized := make([]models.DetectionResult, len(results))
	for i, r := range results {
		if t, err := models.ParseAnomalyType(string(r.Type)); err == nil {
			r.Type = t
		}
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("%w: result %d: %w", ErrInvalidInput, i, err)
		}
		normalized[i] = r
	}
	results = normalized
	return run(ctx, s, OpImportDetectionResults, []attribute.KeyValue{attribute.Int("results", len(results))},
		func(ctx context.Context) (int, error) {
			return s.store.ImportDetectionResults(ctx, results)
		},
		func(n int) int { return n })
}

func (s *analysisService) UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error {
	if logic == nil || logic.ID == "" {
		return fmt.Errorf("%w: detection logic id is required", ErrInvalidInput)
	}
	_, err := run(ctx, s, OpUpsertDetectionLogic, []attribute.KeyValue{attribute.String("detection_logic_id", logic.ID)},
		func(ctx context.Context) (int, error) {
			return len(logic.Parameters), s.store.UpsertDetectionLogic(ctx, logic)
		},
		func(n int) int { return n })
	return err
}

func (s *analysisService) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}
