// Package escalation decides when a session needs an anomaly flag. All
// functions are pure: the caller passes in the current flag and window and
// applies the returned Decision.
package escalation

import (
	"fmt"
	"strings"
	"time"

	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	RuleTremorCritical   = "tremor_critical"
	RuleAbsentFace       = "absent_face_abnormal_vitals"
	RuleCriticalVitals   = "critical_vitals"
	RuleVitalsOutOfRange = "vitals_out_of_range"
	RuleAcuteSymptom     = "acute_symptom"
	ClassAcute           = "acute"
	ClassUnknown         = ""
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Flag     models.EscalationFlag
	Changed  bool
	Escalate bool
	Class    string
	Remedies []string
}

type Evaluator struct {
	thresholds policy.Thresholds
	acute      []string
	minor      []minorClass
}

type minorClass struct {
	class    string
	keywords []string
	remedies []string
}

func NewEvaluator(p *policy.Policy) *Evaluator {
	e := &Evaluator{thresholds: p.Thresholds}
	for _, k := range p.Symptoms.Acute {
		if n := Normalize(k); n != "" {
			e.acute = append(e.acute, n)
		}
	}
	for _, c := range p.Symptoms.Minor {
		mc := minorClass{class: c.Class, remedies: c.Remedies}
		for _, k := range c.Keywords {
			if n := Normalize(k); n != "" {
				mc.keywords = append(mc.keywords, n)
			}
		}
		e.minor = append(e.minor, mc)
	}
	return e
}

func (e *Evaluator) Thresholds() policy.Thresholds {
	return e.thresholds
}

// EvaluateObservation applies the observation rules in order of severity. The
// window must already include obs.
func (e *Evaluator) EvaluateObservation(current models.EscalationFlag, obs models.FrameObservation, w Window) Decision {
	t := e.thresholds
	now := obs.Timestamp

	switch {
	case obs.HasTremor() && *obs.TremorIndex >= t.Tremor.Critical:
		return raise(current, models.EscalationFlag{
			Severity:    models.SeverityCritical,
			Rule:        RuleTremorCritical,
			Reason:      fmt.Sprintf("tremor index %.3f at or above %.3f", *obs.TremorIndex, t.Tremor.Critical),
			TriggeredAt: now,
		})
	case w.NoFaceStreak >= t.NoFaceFrames && w.LastVitalsAbnormal(t):
		return raise(current, models.EscalationFlag{
			Severity:    models.SeverityCritical,
			Rule:        RuleAbsentFace,
			Reason:      fmt.Sprintf("no face for %d frames after abnormal vitals", w.NoFaceStreak),
			TriggeredAt: now,
		})
	case w.CriticalStreak >= t.CriticalVitalsFrames:
		return raise(current, models.EscalationFlag{
			Severity:    models.SeverityCritical,
			Rule:        RuleCriticalVitals,
			Reason:      fmt.Sprintf("critical vitals for %d consecutive frames", w.CriticalStreak),
			TriggeredAt: now,
		})
	case OutOfRange(obs, t):
		return raise(current, models.EscalationFlag{
			Severity:    models.SeverityWarning,
			Rule:        RuleVitalsOutOfRange,
			Reason:      describeReadings(obs),
			TriggeredAt: now,
		})
	}
	return Decision{Flag: current}
}

// EvaluateSymptom classifies a user reported symptom. Acute symptoms raise a
// critical flag and carry no remedies. Minor ones return the remedies of their
// class unless the session is already critical.
func (e *Evaluator) EvaluateSymptom(current models.EscalationFlag, text string, now time.Time) Decision {
	n := Normalize(text)
	if n == "" {
		return Decision{Flag: current}
	}

	for _, k := range e.acute {
		if strings.Contains(n, k) {
			d := raise(current, models.EscalationFlag{
				Severity:    models.SeverityCritical,
				Rule:        RuleAcuteSymptom,
				Reason:      fmt.Sprintf("reported symptom: %s", k),
				TriggeredAt: now,
			})
			d.Class = ClassAcute
			d.Escalate = true
			return d
		}
	}

	for _, c := range e.minor {
		for _, k := range c.keywords {
			if !strings.Contains(n, k) {
				continue
			}
			d := Decision{Flag: current, Class: c.class}
			if !current.IsCritical() {
				d.Remedies = append([]string(nil), c.remedies...)
			}
			return d
		}
	}
	return Decision{Flag: current, Class: ClassUnknown}
}

// raise replaces current with next only when next is more severe.
func raise(current, next models.EscalationFlag) Decision {
	if next.Severity <= current.Severity {
		return Decision{Flag: current}
	}
	return Decision{
		Flag:     next,
		Changed:  true,
		Escalate: next.IsCritical(),
	}
}

func describeReadings(obs models.FrameObservation) string {
	var parts []string
	if obs.HasHeartRate() {
		parts = append(parts, fmt.Sprintf("heart rate %.0f bpm", *obs.HeartRateBPM))
	}
	if obs.HasRespiratoryRate() {
		parts = append(parts, fmt.Sprintf("respiratory rate %.0f bpm", *obs.RespiratoryRateBPM))
	}
	if obs.HasTremor() {
		parts = append(parts, fmt.Sprintf("tremor %.3f", *obs.TremorIndex))
	}
	return "outside normal range: " + strings.Join(parts, ", ")
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Normalize maps free text to a comparable form: NFKC, case folded, typographic
// apostrophes replaced and whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = apostrophes.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
