package models

import "fmt"

// Phase is a step of the monitoring conversation. The nominal phases are
// ordered; Escalated and Closed sit after them.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseSetup
	PhaseAnthropometricIntake
	PhaseBaselineCapture
	PhaseMonitoring
	PhaseSymptomCheck
	PhaseConclusion
	PhaseEscalated
	PhaseClosed
)

var phaseNames = map[Phase]string{
	PhaseGreeting:             "greeting",
	PhaseSetup:                "setup",
	PhaseAnthropometricIntake: "anthropometric_intake",
	PhaseBaselineCapture:      "baseline_capture",
	PhaseMonitoring:           "monitoring",
	PhaseSymptomCheck:         "symptom_check",
	PhaseConclusion:           "conclusion",
	PhaseEscalated:            "escalated",
	PhaseClosed:               "closed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for phase, name := range phaseNames {
		if name == string(b) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// Terminal reports whether no further transition except Closed is allowed.
func (p Phase) Terminal() bool {
	return p == PhaseEscalated || p == PhaseClosed
}

// Started reports whether the session has left Greeting and is not closed.
func (p Phase) Started() bool {
	return p > PhaseGreeting && p != PhaseClosed
}

type AgentStatus string

const (
	StatusIdle        AgentStatus = "idle"
	StatusStarting    AgentStatus = "starting"
	StatusRunning     AgentStatus = "running"
	StatusJoiningCall AgentStatus = "joining_call"
	StatusInCall      AgentStatus = "in_call"
	StatusAnalyzing   AgentStatus = "analyzing"
	StatusStopping    AgentStatus = "stopping"
	StatusStopped     AgentStatus = "stopped"
	StatusFinished    AgentStatus = "finished"
	StatusError       AgentStatus = "error"
)

// StatusForPhase maps a session phase to the agent status shown to clients.
func StatusForPhase(p Phase) AgentStatus {
	switch p {
	case PhaseGreeting:
		return StatusStarting
	case PhaseSetup:
		return StatusJoiningCall
	case PhaseAnthropometricIntake:
		return StatusInCall
	case PhaseBaselineCapture, PhaseMonitoring, PhaseEscalated:
		return StatusRunning
	case PhaseSymptomCheck:
		return StatusAnalyzing
	case PhaseConclusion:
		return StatusFinished
	case PhaseClosed:
		return StatusStopped
	default:
		return StatusIdle
	}
}

// FrameStatus is the per-frame status reported in frame_result.
type FrameStatus string

const (
	FrameNoFace    FrameStatus = "no_face_detected"
	FrameElevated  FrameStatus = "elevated"
	FrameAnalyzing FrameStatus = "analyzing"
)
