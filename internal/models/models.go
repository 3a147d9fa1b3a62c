package models

import "time"

// ReportRecord is an archived session report.
type ReportRecord struct {
	SessionID   string       `json:"session_id"`
	Status      ReportStatus `json:"status"`
	Digest      string       `json:"digest"`
	Report      Report       `json:"report"`
	Document    []byte       `json:"-"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type StartAgentRequest struct {
	SessionID string `json:"session_id"`
	CallType  string `json:"call_type"`
	CallID    string `json:"call_id"`
}

type StopAgentRequest struct {
	SessionID string `json:"session_id"`
}

// SessionSnapshot is the read-only view of a session served to REST and gRPC.
type SessionSnapshot struct {
	SessionID       string           `json:"session_id"`
	Status          AgentStatus      `json:"status"`
	Phase           Phase            `json:"phase"`
	CallType        string           `json:"call_type,omitempty"`
	CallID          string           `json:"call_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Escalation      EscalationState  `json:"escalation"`
	Flag            *EscalationFlag  `json:"flag,omitempty"`
	Baseline        *Baseline        `json:"baseline,omitempty"`
	Anthropometrics *Anthropometrics `json:"anthropometrics,omitempty"`
	FramesProcessed int              `json:"frames_processed"`
	HasAssessment   bool             `json:"has_assessment"`
	HasReport       bool             `json:"has_report"`
	HasDocument     bool             `json:"has_pdf"`
	Error           string           `json:"error,omitempty"`
}
