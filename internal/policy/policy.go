// Package policy holds the tunable clinical thresholds, the symptom catalog and
// the conversation contract handed to the external reasoning collaborator.
// None of the numbers are clinical guidance; they are defaults meant to be
// overridden per deployment.
package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"VitalsAI/go-backend/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

type Range struct {
	NormalMin    float64 `yaml:"normal_min"`
	NormalMax    float64 `yaml:"normal_max"`
	CriticalLow  float64 `yaml:"critical_low"`
	CriticalHigh float64 `yaml:"critical_high"`
}

// OutsideNormal reports whether v lies outside [NormalMin, NormalMax].
func (r Range) OutsideNormal(v float64) bool {
	return v < r.NormalMin || v > r.NormalMax
}

// Critical reports whether v is at or beyond a critical bound.
func (r Range) Critical(v float64) bool {
	return v <= r.CriticalLow || v >= r.CriticalHigh
}

type Tremor struct {
	Elevated float64 `yaml:"elevated"`
	Critical float64 `yaml:"critical"`
}

type Thresholds struct {
	HeartRate            Range   `yaml:"heart_rate"`
	RespiratoryRate      Range   `yaml:"respiratory_rate"`
	Tremor               Tremor  `yaml:"tremor"`
	LowConfidence        float64 `yaml:"low_confidence"`
	NoFaceFrames         int     `yaml:"no_face_frames"`
	CriticalVitalsFrames int     `yaml:"critical_vitals_frames"`
}

type SymptomClass struct {
	Class    string   `yaml:"class"`
	Keywords []string `yaml:"keywords"`
	Remedies []string `yaml:"remedies"`
}

type Symptoms struct {
	Acute []string       `yaml:"acute"`
	Minor []SymptomClass `yaml:"minor"`
}

type Prompts struct {
	Greeting             string `yaml:"greeting" json:"greeting"`
	Setup                string `yaml:"setup" json:"setup"`
	SetupCorrective      string `yaml:"setup_corrective" json:"setup_corrective"`
	AnthropometricIntake string `yaml:"anthropometric_intake" json:"anthropometric_intake"`
	BaselineCapture      string `yaml:"baseline_capture" json:"baseline_capture"`
	Monitoring           string `yaml:"monitoring" json:"monitoring"`
	SymptomCheck         string `yaml:"symptom_check" json:"symptom_check"`
	Conclusion           string `yaml:"conclusion" json:"conclusion"`
	Escalated            string `yaml:"escalated" json:"escalated"`
	SummarySuggestion    string `yaml:"summary_suggestion" json:"summary_suggestion"`
}

type Policy struct {
	Thresholds            Thresholds `yaml:"thresholds"`
	Symptoms              Symptoms   `yaml:"symptoms"`
	Prompts               Prompts    `yaml:"prompts"`
	Disclaimer            string     `yaml:"disclaimer"`
	EscalationGuidance    string     `yaml:"escalation_guidance"`
	DefaultRecommendation string     `yaml:"default_recommendation"`
	NoConditionSentinel   string     `yaml:"no_condition_sentinel"`
}

// Default returns the embedded policy.
func Default() *Policy {
	p, err := Parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("embedded policy is invalid: %v", err))
	}
	return p
}

// Load reads a policy file. An empty path yields the embedded default. Keys
// missing from the file keep their default values.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := parseOver(Default(), data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func Parse(data []byte) (*Policy, error) {
	return parseOver(&Policy{}, data)
}

func parseOver(base *Policy, data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(base); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func (p *Policy) Validate() error {
	var errs []error
	for name, r := range map[string]Range{"heart_rate": p.Thresholds.HeartRate, "respiratory_rate": p.Thresholds.RespiratoryRate} {
		if !(r.CriticalLow < r.NormalMin && r.NormalMin < r.NormalMax && r.NormalMax < r.CriticalHigh) {
			errs = append(errs, fmt.Errorf("%s: expected critical_low < normal_min < normal_max < critical_high", name))
		}
	}
	if p.Thresholds.Tremor.Critical <= p.Thresholds.Tremor.Elevated {
		errs = append(errs, errors.New("tremor: critical must exceed elevated"))
	}
	if p.Thresholds.LowConfidence < 0 || p.Thresholds.LowConfidence > 1 {
		errs = append(errs, errors.New("low_confidence must be within [0,1]"))
	}
	if p.Thresholds.NoFaceFrames <= 0 || p.Thresholds.CriticalVitalsFrames <= 0 {
		errs = append(errs, errors.New("frame counts must be positive"))
	}
	for _, c := range p.Symptoms.Minor {
		if len(c.Remedies) == 0 || len(c.Remedies) > 2 {
			errs = append(errs, fmt.Errorf("symptom class %q: expected 1 or 2 remedies", c.Class))
		}
	}
	if p.Disclaimer == "" {
		errs = append(errs, errors.New("disclaimer is required"))
	}
	if p.NoConditionSentinel == "" {
		errs = append(errs, errors.New("no_condition_sentinel is required"))
	}
	return errors.Join(errs...)
}

// PromptFor returns the guidance text shown on entering a phase.
func (p *Policy) PromptFor(phase models.Phase) string {
	switch phase {
	case models.PhaseGreeting:
		return p.Prompts.Greeting
	case models.PhaseSetup:
		return p.Prompts.Setup
	case models.PhaseAnthropometricIntake:
		return p.Prompts.AnthropometricIntake
	case models.PhaseBaselineCapture:
		return p.Prompts.BaselineCapture
	case models.PhaseMonitoring:
		return p.Prompts.Monitoring
	case models.PhaseSymptomCheck:
		return p.Prompts.SymptomCheck
	case models.PhaseConclusion:
		return p.Prompts.Conclusion
	case models.PhaseEscalated:
		return p.Prompts.Escalated
	default:
		return ""
	}
}

// Contract is the conversation script given to the reasoning collaborator.
type Contract struct {
	Phases     []ContractPhase `json:"phases"`
	Corrective string          `json:"setup_corrective"`
	Suggestion string          `json:"summary_suggestion"`
	Disclaimer string          `json:"disclaimer"`
}

type ContractPhase struct {
	Phase  models.Phase `json:"phase"`
	Prompt string       `json:"prompt"`
}

func (p *Policy) Contract() Contract {
	phases := make([]ContractPhase, 0, 8)
	for ph := models.PhaseGreeting; ph <= models.PhaseEscalated; ph++ {
		phases = append(phases, ContractPhase{Phase: ph, Prompt: p.PromptFor(ph)})
	}
	return Contract{
		Phases:     phases,
		Corrective: p.Prompts.SetupCorrective,
		Suggestion: p.Prompts.SummarySuggestion,
		Disclaimer: p.Disclaimer,
	}
}
