package report

import (
	"fmt"
	"strings"

	"VitalsAI/go-backend/internal/aggregator"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
)

const (
	BreathingSlow    = "slow"
	BreathingNormal  = "normal"
	BreathingFast    = "fast"
	BreathingUnknown = "not measured"
)

// BreathingCategory buckets an average respiratory rate. Zero means no
// reading was available.
func BreathingCategory(avgRR int) string {
	switch {
	case avgRR <= 0:
		return BreathingUnknown
	case avgRR < 12:
		return BreathingSlow
	case avgRR > 20:
		return BreathingFast
	default:
		return BreathingNormal
	}
}

// BuildAssessment derives the conclusion summary from a report.
func BuildAssessment(r *models.Report, p *policy.Policy) *models.Assessment {
	a := &models.Assessment{
		ObservationSummary: observationSummary(r),
		Posture:            postureRating(r.DominantPosture),
		Breathing:          BreathingCategory(r.AvgRespiratoryRate),
		VisibleConcerns:    concerns(r, p),
		Recommendation:     r.Intervention,
		Disclaimer:         r.Disclaimer,
	}
	if a.Recommendation == "" {
		a.Recommendation = p.DefaultRecommendation
	}

	var b strings.Builder
	b.WriteString(a.ObservationSummary)
	fmt.Fprintf(&b, " Posture: %s. Breathing: %s.", a.Posture, a.Breathing)
	if len(a.VisibleConcerns) > 0 {
		fmt.Fprintf(&b, " Noted: %s.", strings.Join(a.VisibleConcerns, "; "))
	}
	fmt.Fprintf(&b, " Recommendation: %s %s", a.Recommendation, a.Disclaimer)
	a.Narrative = b.String()
	return a
}

func observationSummary(r *models.Report) string {
	if !r.HasData() {
		return fmt.Sprintf("Not enough data was captured during the %s session to summarise vitals.", r.DurationText)
	}
	var parts []string
	if r.HeartRateSamples > 0 {
		parts = append(parts, fmt.Sprintf("average heart rate %d bpm", r.AvgHeartRate))
	}
	if r.RespiratorySamples > 0 {
		parts = append(parts, fmt.Sprintf("average breathing rate %d breaths/min", r.AvgRespiratoryRate))
	}
	if r.DominantMood != "" && r.DominantMood != models.MoodUnknown {
		parts = append(parts, fmt.Sprintf("mostly %s mood", strings.ToLower(r.DominantMood)))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Over %s no vital signs could be measured.", r.DurationText)
	}
	return fmt.Sprintf("Over %s I observed %s.", r.DurationText, strings.Join(parts, ", "))
}

func postureRating(p models.PostureScore) string {
	if p == "" {
		return "not assessed"
	}
	return strings.ToLower(string(p))
}

func concerns(r *models.Report, p *policy.Policy) []string {
	out := make([]string, 0, len(r.Conditions)+1)
	if r.Escalation != nil && r.Escalation.Reason != "" {
		out = append(out, r.Escalation.Reason)
	}
	for _, c := range r.Conditions {
		if c == p.NoConditionSentinel || aggregator.IsNegativeSentinel(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
