package report

import (
	"testing"
	"time"

	"VitalsAI/go-backend/internal/aggregator"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func sampleInput() Input {
	agg := aggregator.New()
	agg.Add(models.FrameObservation{HeartRateBPM: f(71.4), RespiratoryRateBPM: f(14), TremorIndex: f(0.0124), Mood: "Calm", Posture: models.PostureGood, Conditions: []string{"No obvious symptoms detected"}})
	agg.Add(models.FrameObservation{HeartRateBPM: f(74.4), RespiratoryRateBPM: f(15), TremorIndex: f(0.0316), Mood: "Calm", Posture: models.PostureGood, Conditions: []string{"Slouching"}})
	agg.Add(models.FrameObservation{HeartRateBPM: f(0), Mood: "Anxious", Posture: models.PostureFair})

	return Input{
		SessionID: "sess-1",
		StartedAt: start,
		EndedAt:   start.Add(2*time.Minute + 5*time.Second + 300*time.Millisecond),
		Baseline:  &models.Baseline{AvgHeartRate: 70, AvgRespiratoryRate: 14, WindowDuration: 10 * time.Second},
		Stats:     agg.Snapshot(),
		Remedies:  []string{"Take a short break and stretch for a few minutes."},
	}
}

func TestBuild_MaterialisesStats(t *testing.T) {
	r := Build(sampleInput(), policy.Default())

	assert.Equal(t, models.ReportComplete, r.Status)
	assert.Equal(t, 73, r.AvgHeartRate)
	assert.Equal(t, 2, r.HeartRateSamples)
	assert.Equal(t, 15, r.AvgRespiratoryRate)
	assert.Equal(t, 0.032, r.MaxTremor)
	assert.Equal(t, "Calm", r.DominantMood)
	assert.Equal(t, models.PostureGood, r.DominantPosture)
	assert.Equal(t, []string{"Slouching"}, r.Conditions)
	assert.Equal(t, "2m 5s", r.DurationText)
	assert.Equal(t, 125*time.Second, r.Duration)
	assert.Equal(t, []string{"Take a short break and stretch for a few minutes."}, r.Remedies)
	assert.Equal(t, r.Remedies[0], r.Intervention)
	assert.Nil(t, r.Escalation)
	assert.NotEmpty(t, r.Disclaimer)
	assert.True(t, Verify(r))
}

func TestBuild_IsDeterministic(t *testing.T) {
	p := policy.Default()
	a := Build(sampleInput(), p)
	b := Build(sampleInput(), p)

	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a, b)
	assert.Len(t, a.Digest, 64)
}

func TestBuild_DigestChangesWithContent(t *testing.T) {
	p := policy.Default()
	in := sampleInput()
	a := Build(in, p)
	in.SessionID = "sess-2"
	b := Build(in, p)
	assert.NotEqual(t, a.Digest, b.Digest)

	a.AvgHeartRate++
	assert.False(t, Verify(a))
}

func TestBuild_InsufficientData(t *testing.T) {
	agg := aggregator.New()
	agg.Add(models.FrameObservation{Mood: models.MoodUnknown})
	agg.Add(models.FrameObservation{HeartRateBPM: f(0)})

	r := Build(Input{SessionID: "empty", StartedAt: start, EndedAt: start.Add(30 * time.Second), Stats: agg.Snapshot()}, policy.Default())
	assert.Equal(t, models.ReportInsufficientData, r.Status)
	assert.False(t, r.HasData())
	assert.Equal(t, 0, r.AvgHeartRate)
	assert.Equal(t, models.MoodUnknown, r.DominantMood)
	assert.Equal(t, []string{"No significant conditions detected"}, r.Conditions)
	assert.Equal(t, "0m 30s", r.DurationText)
}

func TestBuild_EscalatedReplacesRemedies(t *testing.T) {
	p := policy.Default()
	in := sampleInput()
	in.Flag = models.EscalationFlag{
		Severity:    models.SeverityCritical,
		Rule:        "acute_symptom",
		Reason:      "reported symptom: chest pain",
		TriggeredAt: start.Add(time.Minute),
	}

	r := Build(in, p)
	assert.Empty(t, r.Remedies)
	assert.Equal(t, p.EscalationGuidance, r.Intervention)
	require.NotNil(t, r.Escalation)
	assert.Equal(t, "acute_symptom", r.Escalation.Rule)
}

func TestBuild_WarningKeepsRemedies(t *testing.T) {
	in := sampleInput()
	in.Flag = models.EscalationFlag{Severity: models.SeverityWarning, Rule: "vitals_out_of_range"}
	r := Build(in, policy.Default())
	assert.NotEmpty(t, r.Remedies)
	require.NotNil(t, r.Escalation)
}

func TestBuild_NoRemediesUsesDefaultRecommendation(t *testing.T) {
	p := policy.Default()
	in := sampleInput()
	in.Remedies = nil
	r := Build(in, p)
	assert.Equal(t, p.DefaultRecommendation, r.Intervention)
}

func TestSummary(t *testing.T) {
	r := Build(sampleInput(), policy.Default())
	s := r.Summary()
	assert.Equal(t, models.SessionSummary{
		AvgHR:           73,
		AvgRR:           15,
		MaxTremor:       0.032,
		DominantMood:    "Calm",
		SessionDuration: "2m 5s",
		Conditions:      []string{"Slouching"},
	}, s)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m 0s", FormatDuration(0))
	assert.Equal(t, "0m 59s", FormatDuration(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "61m 1s", FormatDuration(61*time.Minute+time.Second))
	assert.Equal(t, "0m 0s", FormatDuration(-time.Second))
}

func TestBreathingCategory(t *testing.T) {
	assert.Equal(t, BreathingUnknown, BreathingCategory(0))
	assert.Equal(t, BreathingSlow, BreathingCategory(11))
	assert.Equal(t, BreathingNormal, BreathingCategory(12))
	assert.Equal(t, BreathingNormal, BreathingCategory(20))
	assert.Equal(t, BreathingFast, BreathingCategory(21))
}

func TestBuildAssessment(t *testing.T) {
	p := policy.Default()
	r := Build(sampleInput(), p)
	a := BuildAssessment(r, p)

	assert.Equal(t, "good", a.Posture)
	assert.Equal(t, BreathingNormal, a.Breathing)
	assert.Equal(t, []string{"Slouching"}, a.VisibleConcerns)
	assert.Equal(t, r.Intervention, a.Recommendation)
	assert.Equal(t, p.Disclaimer, a.Disclaimer)
	assert.Contains(t, a.ObservationSummary, "average heart rate 73 bpm")
	assert.Contains(t, a.Narrative, p.Disclaimer)
}

func TestBuildAssessment_NoData(t *testing.T) {
	p := policy.Default()
	r := Build(Input{SessionID: "x", StartedAt: start, EndedAt: start.Add(time.Second)}, p)
	a := BuildAssessment(r, p)

	assert.Contains(t, a.ObservationSummary, "Not enough data")
	assert.Equal(t, BreathingUnknown, a.Breathing)
	assert.Equal(t, "not assessed", a.Posture)
	assert.Empty(t, a.VisibleConcerns)
}
