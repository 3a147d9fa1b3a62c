// Package session runs one monitoring conversation per connection: the phase
// machine, the actor goroutine that owns it, and the registry that indexes the
// live actors by session id.
package session

import (
	"errors"
	"fmt"
	"time"

	"VitalsAI/go-backend/internal/aggregator"
	"VitalsAI/go-backend/internal/models"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

// Timing holds the phase guard durations. All of them are measured on
// observation timestamps except where a timer drives the transition.
type Timing struct {
	SetupWindow        time.Duration
	IntakeGrace        time.Duration
	BaselineWindow     time.Duration
	MonitoringDuration time.Duration
}

// Step describes what a single input did to the machine.
type Step struct {
	From models.Phase
	To   models.Phase

	// Corrective is set on the first poor lighting frame after a clean stretch.
	Corrective bool
	// BaselineRestarted is set when the baseline window closed without a
	// usable reading and a new window was opened.
	BaselineRestarted bool
}

func (s Step) Changed() bool {
	return s.From != s.To
}

// Machine is the pure phase machine of a session. It performs no I/O and owns
// no timers; the actor feeds it observations, commands and timer fires.
type Machine struct {
	timing Timing
	phase  models.Phase

	setupSince time.Time
	poorLight  bool

	intakeSince time.Time

	baselineSince time.Time
	baselineHR    aggregator.Mean
	baselineRR    aggregator.Mean

	monitoringSince time.Time

	baseline        *models.Baseline
	anthropometrics *models.Anthropometrics
}

func NewMachine(timing Timing) *Machine {
	return &Machine{timing: timing, phase: models.PhaseGreeting}
}

func (m *Machine) Phase() models.Phase {
	return m.phase
}

func (m *Machine) Baseline() *models.Baseline {
	if m.baseline == nil {
		return nil
	}
	b := *m.baseline
	return &b
}

func (m *Machine) Anthropometrics() *models.Anthropometrics {
	if m.anthropometrics == nil {
		return nil
	}
	a := *m.anthropometrics
	return &a
}

// Begin leaves Greeting for Setup.
func (m *Machine) Begin(now time.Time) (Step, error) {
	if m.phase != models.PhaseGreeting {
		return m.noop(), fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseSetup, now), nil
}

// Observe advances the observation driven guards. Missing fields only delay a
// guard; they never fail.
func (m *Machine) Observe(obs models.FrameObservation) Step {
	at := obs.Timestamp

	switch m.phase {
	case models.PhaseSetup:
		if obs.PoorLighting {
			step := m.noop()
			step.Corrective = !m.poorLight
			m.poorLight = true
			m.setupSince = time.Time{}
			return step
		}
		m.poorLight = false
		if m.setupSince.IsZero() {
			m.setupSince = at
		}
		if at.Sub(m.setupSince) >= m.timing.SetupWindow {
			return m.enter(models.PhaseAnthropometricIntake, at)
		}

	case models.PhaseAnthropometricIntake:
		if m.intakeSince.IsZero() {
			m.intakeSince = at
		}
		if at.Sub(m.intakeSince) >= m.timing.IntakeGrace {
			return m.enter(models.PhaseBaselineCapture, at)
		}

	case models.PhaseBaselineCapture:
		if m.baselineSince.IsZero() {
			m.baselineSince = at
		}
		if at.Sub(m.baselineSince) >= m.timing.BaselineWindow {
			step := m.finishBaseline(at)
			if step.BaselineRestarted {
				m.addBaselineReading(obs)
			}
			return step
		}
		m.addBaselineReading(obs)

	case models.PhaseMonitoring:
		if m.monitoringSince.IsZero() {
			m.monitoringSince = at
		}
		if m.timing.MonitoringDuration > 0 && at.Sub(m.monitoringSince) >= m.timing.MonitoringDuration {
			return m.enter(models.PhaseSymptomCheck, at)
		}
	}
	return m.noop()
}

func (m *Machine) addBaselineReading(obs models.FrameObservation) {
	if obs.HasHeartRate() {
		m.baselineHR.Add(*obs.HeartRateBPM)
	}
	if obs.HasRespiratoryRate() {
		m.baselineRR.Add(*obs.RespiratoryRateBPM)
	}
}

// BaselineTimerFired closes the baseline window if it is still open.
func (m *Machine) BaselineTimerFired(now time.Time) Step {
	if m.phase != models.PhaseBaselineCapture {
		return m.noop()
	}
	return m.finishBaseline(now)
}

func (m *Machine) finishBaseline(now time.Time) Step {
	if m.baselineHR.Count() == 0 && m.baselineRR.Count() == 0 {
		m.baselineSince = now
		step := m.noop()
		step.BaselineRestarted = true
		return step
	}
	m.baseline = &models.Baseline{
		AvgHeartRate:       m.baselineHR.Value(),
		AvgRespiratoryRate: m.baselineRR.Value(),
		WindowDuration:     now.Sub(m.baselineSince),
	}
	return m.enter(models.PhaseMonitoring, now)
}

// SubmitAnthropometrics attaches user supplied measurements and moves on to
// baseline capture.
func (m *Machine) SubmitAnthropometrics(a models.Anthropometrics, now time.Time) (Step, error) {
	if m.phase != models.PhaseAnthropometricIntake {
		return m.noop(), fmt.Errorf("%w: anthropometrics in %s", ErrInvalidTransition, m.phase)
	}
	m.anthropometrics = &a
	return m.enter(models.PhaseBaselineCapture, now), nil
}

func (m *Machine) SkipIntake(now time.Time) (Step, error) {
	if m.phase != models.PhaseAnthropometricIntake {
		return m.noop(), fmt.Errorf("%w: skip intake in %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseBaselineCapture, now), nil
}

func (m *Machine) RequestSymptomCheck(now time.Time) (Step, error) {
	if m.phase != models.PhaseMonitoring {
		return m.noop(), fmt.Errorf("%w: symptom check in %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseSymptomCheck, now), nil
}

// SummaryDue moves Monitoring on to the symptom check. In any other phase it
// does nothing.
func (m *Machine) SummaryDue(now time.Time) Step {
	if m.phase != models.PhaseMonitoring {
		return m.noop()
	}
	return m.enter(models.PhaseSymptomCheck, now)
}

// CompleteSymptoms concludes the session after a symptom answer or a skip.
func (m *Machine) CompleteSymptoms(now time.Time) (Step, error) {
	if m.phase != models.PhaseSymptomCheck {
		return m.noop(), fmt.Errorf("%w: conclude from %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseConclusion, now), nil
}

// Escalate forces the absorbing Escalated phase from any non-terminal phase.
func (m *Machine) Escalate(now time.Time) (Step, error) {
	if m.phase.Terminal() {
		return m.noop(), fmt.Errorf("%w: escalate from %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseEscalated, now), nil
}

// Close ends a started session. Stop wins over every guard, so any started
// phase may close.
func (m *Machine) Close(now time.Time) (Step, error) {
	if !m.phase.Started() {
		return m.noop(), fmt.Errorf("%w: close from %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(models.PhaseClosed, now), nil
}

func (m *Machine) noop() Step {
	return Step{From: m.phase, To: m.phase}
}

func (m *Machine) enter(to models.Phase, now time.Time) Step {
	from := m.phase
	m.phase = to
	switch to {
	case models.PhaseSetup:
		m.setupSince = time.Time{}
		m.poorLight = false
	case models.PhaseAnthropometricIntake:
		m.intakeSince = now
	case models.PhaseBaselineCapture:
		m.baselineSince = now
	case models.PhaseMonitoring:
		m.monitoringSince = now
	}
	return Step{From: from, To: to}
}
