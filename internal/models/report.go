package models

import "time"

type ReportStatus string

const (
	ReportComplete         ReportStatus = "complete"
	ReportInsufficientData ReportStatus = "insufficient_data"
)

// Report is the immutable end-of-session summary.
type Report struct {
	SessionID          string           `json:"session_id"`
	Status             ReportStatus     `json:"status"`
	StartedAt          time.Time        `json:"started_at"`
	Duration           time.Duration    `json:"duration"`
	DurationText       string           `json:"duration_text"`
	Baseline           *Baseline        `json:"baseline,omitempty"`
	Anthropometrics    *Anthropometrics `json:"anthropometrics,omitempty"`
	AvgHeartRate       int              `json:"avg_hr"`
	HeartRateSamples   int              `json:"hr_samples"`
	AvgRespiratoryRate int              `json:"avg_rr"`
	RespiratorySamples int              `json:"rr_samples"`
	MaxTremor          float64          `json:"max_tremor"`
	DominantMood       string           `json:"dominant_mood"`
	DominantPosture    PostureScore     `json:"dominant_posture,omitempty"`
	Conditions         []string         `json:"conditions"`
	Remedies           []string         `json:"remedies,omitempty"`
	Intervention       string           `json:"intervention"`
	Escalation         *EscalationFlag  `json:"escalation,omitempty"`
	Disclaimer         string           `json:"disclaimer"`
	Digest             string           `json:"digest"`
}

func (r *Report) HasData() bool {
	return r.Status == ReportComplete
}

// Summary is the payload handed to the document renderer.
func (r *Report) Summary() SessionSummary {
	conditions := make([]string, len(r.Conditions))
	copy(conditions, r.Conditions)
	return SessionSummary{
		AvgHR:           float64(r.AvgHeartRate),
		AvgRR:           float64(r.AvgRespiratoryRate),
		MaxTremor:       r.MaxTremor,
		DominantMood:    r.DominantMood,
		SessionDuration: r.DurationText,
		Conditions:      conditions,
	}
}

type SessionSummary struct {
	AvgHR           float64  `json:"avg_hr"`
	AvgRR           float64  `json:"avg_rr"`
	MaxTremor       float64  `json:"max_tremor"`
	DominantMood    string   `json:"dominant_mood"`
	SessionDuration string   `json:"session_duration"`
	Conditions      []string `json:"conditions"`
}

// Assessment is the structured summary sent with the assessment event.
type Assessment struct {
	ObservationSummary string   `json:"observation_summary"`
	Posture            string   `json:"posture"`
	Breathing          string   `json:"breathing"`
	VisibleConcerns    []string `json:"visible_concerns"`
	Recommendation     string   `json:"recommendation"`
	Disclaimer         string   `json:"disclaimer"`
	Narrative          string   `json:"narrative"`
}
