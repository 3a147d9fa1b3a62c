package models

import (
	"fmt"
	"math"
	"time"
)

type PostureScore string

const (
	PostureGood PostureScore = "Good"
	PostureFair PostureScore = "Fair"
	PosturePoor PostureScore = "Poor"
)

// MoodUnknown is reported by the estimator when no usable face region exists.
const MoodUnknown = "Unknown"

// FrameObservation is the estimator output for a single frame. Nil readings mean
// the estimator could not produce the metric for this frame.
type FrameObservation struct {
	Timestamp          time.Time    `json:"timestamp"`
	HeartRateBPM       *float64     `json:"heart_rate_bpm"`
	RespiratoryRateBPM *float64     `json:"respiratory_rate_bpm"`
	TremorIndex        *float64     `json:"tremor_index"`
	Mood               string       `json:"mood"`
	Gesture            string       `json:"gesture,omitempty"`
	Confidence         float64      `json:"confidence"`
	Posture            PostureScore `json:"posture,omitempty"`
	Conditions         []string     `json:"conditions"`
	FaceDetected       bool         `json:"face_detected"`
	PoorLighting       bool         `json:"poor_lighting"`
}

func (o FrameObservation) HasHeartRate() bool {
	return positive(o.HeartRateBPM)
}

func (o FrameObservation) HasRespiratoryRate() bool {
	return positive(o.RespiratoryRateBPM)
}

func (o FrameObservation) HasTremor() bool {
	return o.TremorIndex != nil && finite(*o.TremorIndex) && *o.TremorIndex >= 0
}

// WithoutReadings returns a copy with the numeric vitals cleared. Used for
// frames whose confidence is too low to trust.
func (o FrameObservation) WithoutReadings() FrameObservation {
	o.HeartRateBPM = nil
	o.RespiratoryRateBPM = nil
	o.TremorIndex = nil
	return o
}

func positive(v *float64) bool {
	return v != nil && finite(*v) && *v > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type Anthropometrics struct {
	HeightCm float64 `json:"height_cm"`
	WeightKg float64 `json:"weight_kg"`
	BMI      float64 `json:"bmi"`
}

// NewAnthropometrics validates user supplied height and weight and computes BMI
// rounded to one decimal.
func NewAnthropometrics(heightCm, weightKg float64) (Anthropometrics, bool) {
	if !finite(heightCm) || !finite(weightKg) || heightCm <= 0 || weightKg <= 0 {
		return Anthropometrics{}, false
	}
	m := heightCm / 100
	bmi := math.Round(weightKg/(m*m)*10) / 10
	return Anthropometrics{HeightCm: heightCm, WeightKg: weightKg, BMI: bmi}, true
}

type Baseline struct {
	AvgHeartRate       float64       `json:"avg_hr"`
	AvgRespiratoryRate float64       `json:"avg_rr"`
	WindowDuration     time.Duration `json:"window_duration"`
}

type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none", "":
		*s = SeverityNone
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

type EscalationFlag struct {
	Severity    Severity  `json:"severity"`
	Rule        string    `json:"rule,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

func (f EscalationFlag) IsCritical() bool {
	return f.Severity == SeverityCritical
}

type EscalationState string

const (
	EscalationNone    EscalationState = "none"
	EscalationPending EscalationState = "pending"
	EscalationActive  EscalationState = "active"
)

func (f EscalationFlag) State() EscalationState {
	switch f.Severity {
	case SeverityWarning:
		return EscalationPending
	case SeverityCritical:
		return EscalationActive
	default:
		return EscalationNone
	}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status           string `json:"status"`
	GoBackend        string `json:"go_backend"`
	EstimatorService bool   `json:"estimator_service"`
	ActiveSessions   int    `json:"active_sessions"`
	UptimeSec        int64  `json:"uptime_sec"`
	Version          string `json:"version,omitempty"`
}
