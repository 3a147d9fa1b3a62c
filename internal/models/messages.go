package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMalformedMessage = errors.New("malformed message")
)

// Inbound is a message received from the client: either a frame or one of the
// control commands below.
type Inbound interface {
	inbound()
}

type FrameMessage struct {
	Payload []byte
}

type StartAgent struct {
	CallType string
	CallID   string
}

type StopAgent struct{}

type GetStatus struct{}

type SubmitAnthropometrics struct {
	HeightCm float64
	WeightKg float64
}

type SkipAnthropometrics struct{}

type RequestSymptomCheck struct{}

type ReportSymptom struct {
	Text string
}

type SkipSymptoms struct{}

func (FrameMessage) inbound()          {}
func (StartAgent) inbound()            {}
func (StopAgent) inbound()             {}
func (GetStatus) inbound()             {}
func (SubmitAnthropometrics) inbound() {}
func (SkipAnthropometrics) inbound()   {}
func (RequestSymptomCheck) inbound()   {}
func (ReportSymptom) inbound()         {}
func (SkipSymptoms) inbound()          {}

const (
	CommandStartAgent          = "start_agent"
	CommandStopAgent           = "stop_agent"
	CommandGetStatus           = "get_status"
	CommandAnthropometrics     = "anthropometrics"
	CommandSkipAnthropometrics = "skip_anthropometrics"
	CommandRequestSymptomCheck = "request_symptom_check"
	CommandReportSymptom       = "report_symptom"
	CommandSkipSymptoms        = "skip_symptoms"
)

type controlEnvelope struct {
	Type     string   `json:"type"`
	CallType *string  `json:"call_type,omitempty"`
	CallID   *string  `json:"call_id,omitempty"`
	HeightCm *float64 `json:"height_cm,omitempty"`
	WeightKg *float64 `json:"weight_kg,omitempty"`
	Text     *string  `json:"text,omitempty"`
}

// ParseInbound decodes a raw websocket message. Binary messages and text that is
// not a JSON object are frames (base64, optionally with a data URL prefix).
func ParseInbound(binary bool, data []byte) (Inbound, error) {
	if binary {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
		}
		return FrameMessage{Payload: data}, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	if trimmed[0] == '{' {
		return parseControl(trimmed)
	}
	return parseTextFrame(string(trimmed))
}

func parseControl(data []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env controlEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case CommandStartAgent:
		return StartAgent{
			CallType: stringOr(env.CallType, "default"),
			CallID:   stringOr(env.CallID, "default"),
		}, nil
	case CommandStopAgent:
		return StopAgent{}, nil
	case CommandGetStatus:
		return GetStatus{}, nil
	case CommandAnthropometrics:
		if env.HeightCm == nil || env.WeightKg == nil {
			return nil, fmt.Errorf("%w: anthropometrics requires height_cm and weight_kg", ErrMalformedMessage)
		}
		return SubmitAnthropometrics{HeightCm: *env.HeightCm, WeightKg: *env.WeightKg}, nil
	case CommandSkipAnthropometrics:
		return SkipAnthropometrics{}, nil
	case CommandRequestSymptomCheck:
		return RequestSymptomCheck{}, nil
	case CommandReportSymptom:
		if env.Text == nil || strings.TrimSpace(*env.Text) == "" {
			return nil, fmt.Errorf("%w: report_symptom requires text", ErrMalformedMessage)
		}
		return ReportSymptom{Text: strings.TrimSpace(*env.Text)}, nil
	case CommandSkipSymptoms:
		return SkipSymptoms{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

func parseTextFrame(s string) (Inbound, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("%w: data url without base64 payload", ErrMalformedMessage)
		}
		s = s[idx+len(";base64,"):]
	}
	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: frame is not base64: %v", ErrMalformedMessage, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	return FrameMessage{Payload: payload}, nil
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

type EventKind string

const (
	EventFrameResult  EventKind = "frame_result"
	EventAgentStatus  EventKind = "agent_status"
	EventAssessment   EventKind = "assessment"
	EventAgentError   EventKind = "agent_error"
	EventAgentStopped EventKind = "agent_stopped"
)

// Event is an outbound message for the client.
type Event interface {
	Kind() EventKind
}

type AgentRef struct {
	Status AgentStatus `json:"status"`
}

type FrameResult struct {
	Type               EventKind   `json:"type"`
	HeartRateBPM       *float64    `json:"heart_rate_bpm"`
	RespiratoryRateBPM *float64    `json:"respiratory_rate_bpm"`
	TremorIndex        *float64    `json:"tremor_index"`
	Mood               string      `json:"mood"`
	Gesture            string      `json:"gesture"`
	Confidence         float64     `json:"confidence"`
	Status             FrameStatus `json:"status"`
	Conditions         []string    `json:"conditions"`
	Agent              *AgentRef   `json:"agent,omitempty"`
}

type AgentStatusEvent struct {
	Type       EventKind       `json:"type"`
	SessionID  string          `json:"session_id"`
	Status     AgentStatus     `json:"status"`
	Phase      Phase           `json:"phase"`
	CallType   string          `json:"call_type,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Message    string          `json:"message,omitempty"`
	Escalation *EscalationFlag `json:"escalation,omitempty"`
	Remedies   []string        `json:"remedies,omitempty"`
}

type AssessmentEvent struct {
	Type       EventKind   `json:"type"`
	Data       string      `json:"data"`
	Assessment *Assessment `json:"assessment"`
}

type AgentErrorEvent struct {
	Type  EventKind `json:"type"`
	Error string    `json:"error"`
}

type AgentStoppedEvent struct {
	Type      EventKind `json:"type"`
	SessionID string    `json:"session_id"`
}

func (FrameResult) Kind() EventKind       { return EventFrameResult }
func (AgentStatusEvent) Kind() EventKind  { return EventAgentStatus }
func (AssessmentEvent) Kind() EventKind   { return EventAssessment }
func (AgentErrorEvent) Kind() EventKind   { return EventAgentError }
func (AgentStoppedEvent) Kind() EventKind { return EventAgentStopped }

func NewFrameResult(obs FrameObservation, status FrameStatus, agent AgentStatus) FrameResult {
	conditions := obs.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	mood := obs.Mood
	if mood == "" {
		mood = MoodUnknown
	}
	return FrameResult{
		Type:               EventFrameResult,
		HeartRateBPM:       obs.HeartRateBPM,
		RespiratoryRateBPM: obs.RespiratoryRateBPM,
		TremorIndex:        obs.TremorIndex,
		Mood:               mood,
		Gesture:            obs.Gesture,
		Confidence:         obs.Confidence,
		Status:             status,
		Conditions:         conditions,
		Agent:              &AgentRef{Status: agent},
	}
}

func NewAssessmentEvent(a *Assessment) AssessmentEvent {
	return AssessmentEvent{Type: EventAssessment, Data: a.Narrative, Assessment: a}
}

func NewAgentError(err error) AgentErrorEvent {
	return AgentErrorEvent{Type: EventAgentError, Error: err.Error()}
}

func NewAgentStopped(sessionID string) AgentStoppedEvent {
	return AgentStoppedEvent{Type: EventAgentStopped, SessionID: sessionID}
}

// EncodeEvent serialises an event, stamping its type.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case FrameResult:
		e.Type = EventFrameResult
		return json.Marshal(e)
	case AgentStatusEvent:
		e.Type = EventAgentStatus
		return json.Marshal(e)
	case AssessmentEvent:
		e.Type = EventAssessment
		return json.Marshal(e)
	case AgentErrorEvent:
		e.Type = EventAgentError
		return json.Marshal(e)
	case AgentStoppedEvent:
		e.Type = EventAgentStopped
		return json.Marshal(e)
	default:
		return nil, fmt.Errorf("%w: outbound %T", ErrUnknownMessage, ev)
	}
}
