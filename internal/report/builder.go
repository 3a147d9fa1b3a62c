// Package report turns the final state of a session into its immutable
// report and the structured assessment shown at conclusion.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"VitalsAI/go-backend/internal/aggregator"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"

	"golang.org/x/crypto/blake2b"
)

// Input is everything the builder reads. It is a plain value so the same
// input always yields the same report.
type Input struct {
	SessionID       string
	StartedAt       time.Time
	EndedAt         time.Time
	Baseline        *models.Baseline
	Anthropometrics *models.Anthropometrics
	Stats           aggregator.Stats
	Flag            models.EscalationFlag
	Remedies        []string
}

// Build materialises the report. Remedies are dropped for escalated sessions,
// which carry the escalation guidance as their intervention instead.
func Build(in Input, p *policy.Policy) *models.Report {
	duration := in.EndedAt.Sub(in.StartedAt)
	if in.StartedAt.IsZero() || duration < 0 {
		duration = 0
	}

	r := &models.Report{
		SessionID:          in.SessionID,
		Status:             models.ReportComplete,
		StartedAt:          in.StartedAt.UTC(),
		Duration:           duration.Truncate(time.Second),
		DurationText:       FormatDuration(duration),
		Baseline:           in.Baseline,
		Anthropometrics:    in.Anthropometrics,
		AvgHeartRate:       int(math.Round(in.Stats.AvgHeartRate)),
		HeartRateSamples:   in.Stats.HeartRateSamples,
		AvgRespiratoryRate: int(math.Round(in.Stats.AvgRespiratoryRate)),
		RespiratorySamples: in.Stats.RespiratorySamples,
		MaxTremor:          math.Round(in.Stats.MaxTremor*1000) / 1000,
		DominantMood:       in.Stats.DominantMood,
		DominantPosture:    in.Stats.DominantPosture,
		Conditions:         aggregator.FilterConditions(in.Stats.Conditions, p.NoConditionSentinel),
		Disclaimer:         p.Disclaimer,
	}
	if r.DominantMood == "" {
		r.DominantMood = models.MoodUnknown
	}
	if !in.Stats.HasData() {
		r.Status = models.ReportInsufficientData
	}

	if in.Flag.Severity != models.SeverityNone {
		flag := in.Flag
		flag.TriggeredAt = flag.TriggeredAt.UTC()
		r.Escalation = &flag
	}
	if in.Flag.IsCritical() {
		r.Intervention = p.EscalationGuidance
	} else {
		r.Remedies = dedupe(in.Remedies)
		r.Intervention = p.DefaultRecommendation
		if len(r.Remedies) > 0 {
			r.Intervention = strings.Join(r.Remedies, " ")
		}
	}

	r.Digest = Digest(r)
	return r
}

// Digest is a blake2b-256 hash over the report's JSON form with the digest
// field cleared.
func Digest(r *models.Report) string {
	c := *r
	c.Digest = ""
	data, err := json.Marshal(&c)
	if err != nil {
		// every field of Report is marshalable
		panic(fmt.Sprintf("marshal report: %v", err))
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored digest matches the report content.
func Verify(r *models.Report) bool {
	return r.Digest != "" && r.Digest == Digest(r)
}

// FormatDuration renders whole seconds as "Xm Ys".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
