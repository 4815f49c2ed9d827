package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidWindow is returned when an analysis window does not end after it starts.
	ErrInvalidWindow = errors.New("invalid analysis window")

	// ErrInvalidDetection is returned for a detection result whose fields cannot be analysed.
	ErrInvalidDetection = errors.New("invalid detection result")
)

// AnomalyType classifies what kind of deviation a detection logic observed.
type AnomalyType string

const (
	AnomalyTypeOutOfRange   AnomalyType = "OutOfRange"
	AnomalyTypeRateOfChange AnomalyType = "RateOfChange"
	AnomalyTypeTimeout      AnomalyType = "Timeout"
	AnomalyTypeStuck        AnomalyType = "Stuck"
	AnomalyTypePattern      AnomalyType = "Pattern"
	AnomalyTypeStatistical  AnomalyType = "Statistical"
	AnomalyTypeCustom       AnomalyType = "Custom"
)

// AllAnomalyTypes returns every anomaly type in display order.
func AllAnomalyTypes() []AnomalyType {
	return []AnomalyType{
		AnomalyTypeOutOfRange,
		AnomalyTypeRateOfChange,
		AnomalyTypeTimeout,
		AnomalyTypeStuck,
		AnomalyTypePattern,
		AnomalyTypeStatistical,
		AnomalyTypeCustom,
	}
}

// ParseAnomalyType resolves a case-insensitive type name.
func ParseAnomalyType(s string) (AnomalyType, error) {
	for _, t := range AllAnomalyTypes() {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown anomaly type %q", s)
}

// AnomalyLevel is the ordered severity of a detection: Info < Warning < Error < Critical < Fatal.
type AnomalyLevel int

const (
	AnomalyLevelInfo AnomalyLevel = iota
	AnomalyLevelWarning
	AnomalyLevelError
	AnomalyLevelCritical
	AnomalyLevelFatal
)

var levelNames = [...]string{"Info", "Warning", "Error", "Critical", "Fatal"}

// AllAnomalyLevels returns every level from least to most severe.
func AllAnomalyLevels() []AnomalyLevel {
	return []AnomalyLevel{
		AnomalyLevelInfo,
		AnomalyLevelWarning,
		AnomalyLevelError,
		AnomalyLevelCritical,
		AnomalyLevelFatal,
	}
}

func (l AnomalyLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("AnomalyLevel(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the defined levels.
func (l AnomalyLevel) Valid() bool {
	return l >= AnomalyLevelInfo && l <= AnomalyLevelFatal
}

// AtLeast reports whether l is as severe as other or more.
func (l AnomalyLevel) AtLeast(other AnomalyLevel) bool {
	return l >= other
}

// MarshalText encodes the level by name so it can key JSON objects.
func (l AnomalyLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("unknown anomaly level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name.
func (l *AnomalyLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseAnomalyLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseAnomalyLevel resolves a case-insensitive level name.
func ParseAnomalyLevel(s string) (AnomalyLevel, error) {
	for i, name := range levelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return AnomalyLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown anomaly level %q", s)
}

// DetectionResult is one anomaly event observed by the upstream detection pipeline.
// The analytics core only reads these.
type DetectionResult struct {
	ID               string        `json:"id"`
	SignalID         string        `json:"signal_id"`
	DetectionLogicID string        `json:"detection_logic_id"`
	Type             AnomalyType   `json:"anomaly_type"`
	Level            AnomalyLevel  `json:"anomaly_level"`
	DetectedAt       time.Time     `json:"detected_at"`
	Duration         time.Duration `json:"duration_ns"`
	Confidence       float64       `json:"confidence"`
	SignalValue      float64       `json:"signal_value"`
	IsValidated      bool          `json:"is_validated"`
	IsResolved       bool          `json:"is_resolved"`
	IsFalsePositive  bool          `json:"is_false_positive"`
	TriggerCondition string        `json:"trigger_condition"`
}

// Validate checks the fields the analytics engines rely on. It expects Type in its canonical
// spelling; ParseAnomalyType normalizes user input first.
func (d DetectionResult) Validate() error {
	switch {
	case d.SignalID == "" || d.DetectionLogicID == "":
		return fmt.Errorf("%w: signal_id and detection_logic_id are required", ErrInvalidDetection)
	case d.DetectedAt.IsZero():
		return fmt.Errorf("%w: detected_at is required", ErrInvalidDetection)
	case d.Duration < 0:
		return fmt.Errorf("%w: duration_ns %d is negative", ErrInvalidDetection, int64(d.Duration))
	case math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1:
		return fmt.Errorf("%w: confidence %v is outside [0, 1]", ErrInvalidDetection, d.Confidence)
	case math.IsNaN(d.SignalValue) || math.IsInf(d.SignalValue, 0):
		return fmt.Errorf("%w: signal_value %v is not finite", ErrInvalidDetection, d.SignalValue)
	case !d.Level.Valid():
		return fmt.Errorf("%w: unknown anomaly level %d", ErrInvalidDetection, int(d.Level))
	}
	if t, err := ParseAnomalyType(string(d.Type)); err != nil || t != d.Type {
		return fmt.Errorf("%w: unknown anomaly type %q", ErrInvalidDetection, d.Type)
	}
	return nil
}

// IsTruePositive reports whether the detection was validated and not marked as a false positive.
func (d DetectionResult) IsTruePositive() bool {
	return d.IsValidated && !d.IsFalsePositive
}

// LogicParameter is one named, typed parameter of a detection logic, e.g. "MaxThreshold".
type LogicParameter struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// DetectionLogic is the definition the recommendation engine quotes current values from.
type DetectionLogic struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Parameters []LogicParameter `json:"parameters"`
}

// Parameter returns the parameter with the given name (case-insensitive).
func (l *DetectionLogic) Parameter(name string) (LogicParameter, bool) {
	if l == nil {
		return LogicParameter{}, false
	}
	for _, p := range l.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return LogicParameter{}, false
}

// ThresholdParameter picks the parameter that represents the main detection threshold.
// Upper/max thresholds win over other names containing "Threshold".
func (l *DetectionLogic) ThresholdParameter() (LogicParameter, bool) {
	if l == nil {
		return LogicParameter{}, false
	}
	for _, preferred := range []string{"MaxThreshold", "UpperThreshold", "Threshold"} {
		if p, ok := l.Parameter(preferred); ok {
			return p, true
		}
	}
	for _, p := range l.Parameters {
		if strings.Contains(strings.ToLower(p.Name), "threshold") {
			return p, true
		}
	}
	return LogicParameter{}, false
}

// IsLowerBound reports whether tightening this parameter means decreasing it.
func (p LogicParameter) IsLowerBound() bool {
	n := strings.ToLower(p.Name)
	return strings.HasPrefix(n, "min") || strings.HasPrefix(n, "lower")
}

// TimeWindow is a closed historical analysis range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow validates and returns a window.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate fails when the window is empty or inverted.
func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the length of the window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t lies inside the window (inclusive).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%s/%s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}
