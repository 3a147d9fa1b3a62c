package session

import (
	"testing"
	"time"

	"VitalsAI/go-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTiming = Timing{
	SetupWindow:        3 * time.Second,
	IntakeGrace:        10 * time.Second,
	BaselineWindow:     10 * time.Second,
	MonitoringDuration: time.Minute,
}

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func ptr(v float64) *float64 { return &v }

func clean(sec float64) models.FrameObservation {
	return models.FrameObservation{Timestamp: at(sec), FaceDetected: true, Confidence: 0.9}
}

func withVitals(sec, hr, rr float64) models.FrameObservation {
	obs := clean(sec)
	obs.HeartRateBPM = ptr(hr)
	obs.RespiratoryRateBPM = ptr(rr)
	return obs
}

// toBaseline drives a fresh machine to BaselineCapture at t=3s.
func toBaseline(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(testTiming)
	_, err := m.Begin(at(0))
	require.NoError(t, err)
	m.Observe(clean(0))
	step := m.Observe(clean(3))
	require.Equal(t, models.PhaseAnthropometricIntake, step.To)
	_, err = m.SkipIntake(at(3))
	require.NoError(t, err)
	return m
}

func TestMachine_BeginOnlyFromGreeting(t *testing.T) {
	m := NewMachine(testTiming)
	step, err := m.Begin(at(0))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGreeting, step.From)
	assert.Equal(t, models.PhaseSetup, step.To)

	_, err = m.Begin(at(1))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.PhaseSetup, m.Phase())
}

func TestMachine_SetupNeedsCleanWindow(t *testing.T) {
	m := NewMachine(testTiming)
	_, _ = m.Begin(at(0))

	assert.False(t, m.Observe(clean(0)).Changed())
	assert.False(t, m.Observe(clean(2)).Changed())

	dark := clean(2.5)
	dark.PoorLighting = true
	step := m.Observe(dark)
	assert.True(t, step.Corrective)
	assert.False(t, step.Changed())

	// still dark: no second prompt
	dark.Timestamp = at(2.8)
	assert.False(t, m.Observe(dark).Corrective)

	// the window restarts from the first clean frame after the dark ones
	assert.False(t, m.Observe(clean(3)).Changed())
	assert.False(t, m.Observe(clean(5.9)).Changed())
	step = m.Observe(clean(6))
	assert.Equal(t, models.PhaseAnthropometricIntake, step.To)
}

func TestMachine_SetupGuardIgnoresFaceAndReadings(t *testing.T) {
	m := NewMachine(testTiming)
	_, _ = m.Begin(at(0))

	faceless := models.FrameObservation{Timestamp: at(0), Mood: models.MoodUnknown}
	assert.False(t, m.Observe(faceless).Changed())
	faceless.Timestamp = at(3)
	step := m.Observe(faceless)
	assert.Equal(t, models.PhaseAnthropometricIntake, step.To)
	assert.False(t, step.Corrective)
}

func TestMachine_IntakeGraceElapses(t *testing.T) {
	m := NewMachine(testTiming)
	_, _ = m.Begin(at(0))
	m.Observe(clean(0))
	m.Observe(clean(3))
	require.Equal(t, models.PhaseAnthropometricIntake, m.Phase())

	assert.False(t, m.Observe(clean(12)).Changed())
	step := m.Observe(clean(13))
	assert.Equal(t, models.PhaseBaselineCapture, step.To)
	assert.Nil(t, m.Anthropometrics())
}

func TestMachine_AnthropometricsAttached(t *testing.T) {
	m := NewMachine(testTiming)
	_, _ = m.Begin(at(0))
	m.Observe(clean(0))
	m.Observe(clean(3))

	a, ok := models.NewAnthropometrics(180, 81)
	require.True(t, ok)
	step, err := m.SubmitAnthropometrics(a, at(4))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBaselineCapture, step.To)
	require.NotNil(t, m.Anthropometrics())
	assert.Equal(t, 25.0, m.Anthropometrics().BMI)

	_, err = m.SubmitAnthropometrics(a, at(5))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMachine_BaselineCapturedOnWindowEnd(t *testing.T) {
	m := toBaseline(t)

	m.Observe(withVitals(4, 70, 14))
	m.Observe(clean(6))
	m.Observe(withVitals(8, 74, 16))
	step := m.Observe(withVitals(13, 200, 40))

	assert.Equal(t, models.PhaseMonitoring, step.To)
	b := m.Baseline()
	require.NotNil(t, b)
	assert.Equal(t, 72.0, b.AvgHeartRate)
	assert.Equal(t, 15.0, b.AvgRespiratoryRate)
	assert.Equal(t, 10*time.Second, b.WindowDuration)
}

func TestMachine_EmptyBaselineRestarts(t *testing.T) {
	m := toBaseline(t)

	m.Observe(clean(5))
	step := m.BaselineTimerFired(at(13))
	assert.True(t, step.BaselineRestarted)
	assert.Equal(t, models.PhaseBaselineCapture, m.Phase())

	m.Observe(withVitals(15, 66, 12))
	step = m.BaselineTimerFired(at(23))
	assert.Equal(t, models.PhaseMonitoring, step.To)
	assert.Equal(t, 66.0, m.Baseline().AvgHeartRate)
}

func TestMachine_BaselineTimerIgnoredOutsideBaseline(t *testing.T) {
	m := NewMachine(testTiming)
	_, _ = m.Begin(at(0))
	assert.False(t, m.BaselineTimerFired(at(20)).Changed())
	assert.Equal(t, models.PhaseSetup, m.Phase())
}

func TestMachine_MonitoringToConclusion(t *testing.T) {
	m := toBaseline(t)
	m.Observe(withVitals(4, 70, 14))
	m.BaselineTimerFired(at(13))
	require.Equal(t, models.PhaseMonitoring, m.Phase())

	_, err := m.CompleteSymptoms(at(14))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	step, err := m.RequestSymptomCheck(at(20))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSymptomCheck, step.To)

	step, err = m.CompleteSymptoms(at(25))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseConclusion, step.To)

	step, err = m.Close(at(30))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseClosed, step.To)
}

func TestMachine_MonitoringDurationAndSummary(t *testing.T) {
	m := toBaseline(t)
	m.Observe(withVitals(4, 70, 14))
	m.BaselineTimerFired(at(13))

	assert.False(t, m.Observe(clean(60)).Changed())
	assert.Equal(t, models.PhaseSymptomCheck, m.Observe(clean(73)).To)

	other := toBaseline(t)
	other.Observe(withVitals(4, 70, 14))
	other.BaselineTimerFired(at(13))
	assert.Equal(t, models.PhaseSymptomCheck, other.SummaryDue(at(20)).To)
	assert.False(t, other.SummaryDue(at(21)).Changed())
}

func TestMachine_EscalateFromAnyNonTerminal(t *testing.T) {
	for _, drive := range []func(*Machine){
		func(m *Machine) {},
		func(m *Machine) { _, _ = m.Begin(at(0)) },
		func(m *Machine) { _, _ = m.Begin(at(0)); m.Observe(clean(0)); m.Observe(clean(3)) },
	} {
		m := NewMachine(testTiming)
		drive(m)
		step, err := m.Escalate(at(5))
		require.NoError(t, err)
		assert.Equal(t, models.PhaseEscalated, step.To)

		_, err = m.Escalate(at(6))
		assert.ErrorIs(t, err, ErrInvalidTransition)

		// Escalated is absorbing except for Close
		_, err = m.RequestSymptomCheck(at(6))
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.False(t, m.Observe(clean(100)).Changed())
	}
}

func TestMachine_CloseWinsButNothingLeavesClosed(t *testing.T) {
	m := NewMachine(testTiming)
	_, err := m.Close(at(0))
	assert.ErrorIs(t, err, ErrInvalidTransition, "idle session cannot close")

	_, _ = m.Begin(at(0))
	_, err = m.Close(at(1))
	require.NoError(t, err)

	_, err = m.Close(at(2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Escalate(at(2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Begin(at(2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.PhaseClosed, m.Phase())
}

func TestMachine_PhaseIsMonotonic(t *testing.T) {
	m := NewMachine(testTiming)
	last := m.Phase()
	check := func(s Step) {
		assert.GreaterOrEqual(t, int(s.To), int(last))
		last = s.To
	}

	s, _ := m.Begin(at(0))
	check(s)
	for i := 0; i <= 40; i++ {
		obs := withVitals(float64(i), 70, 14)
		if i%7 == 0 {
			obs.PoorLighting = true
		}
		check(m.Observe(obs))
	}
	s, _ = m.SkipIntake(at(41))
	check(s)
	s = m.BaselineTimerFired(at(60))
	check(s)
	s, _ = m.RequestSymptomCheck(at(61))
	check(s)
	s, _ = m.CompleteSymptoms(at(62))
	check(s)
	s, _ = m.Close(at(63))
	check(s)
}
