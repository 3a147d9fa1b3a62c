// Package aggregator keeps the running statistics of one monitoring session.
// Every update is O(1) in the number of observations seen so far.
package aggregator

import (
	"strings"

	"VitalsAI/go-backend/internal/models"
)

// Mean is a running arithmetic mean over positive readings.
type Mean struct {
	sum   float64
	count int
}

func (m *Mean) Add(v float64) {
	m.sum += v
	m.count++
}

func (m Mean) Count() int {
	return m.count
}

// Value returns the mean, or 0 when nothing was added.
func (m Mean) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

type MoodCount struct {
	Mood  string `json:"mood"`
	Count int    `json:"count"`
}

// Aggregator is owned by a single session actor and is not safe for concurrent use.
type Aggregator struct {
	observations int
	heartRate    Mean
	respiratory  Mean
	maxTremor    float64
	tremorSeen   int

	moods         []MoodCount
	moodIndex     map[string]int
	dominant      string
	dominantCount int

	postures      map[models.PostureScore]int
	postureOrder  []models.PostureScore
	conditions    []string
	conditionSeen map[string]struct{}
}

func New() *Aggregator {
	return &Aggregator{
		moodIndex:     make(map[string]int),
		postures:      make(map[models.PostureScore]int),
		conditionSeen: make(map[string]struct{}),
	}
}

// Add folds one observation into the running state. Missing, zero or
// non-finite readings are skipped and never imputed.
func (a *Aggregator) Add(obs models.FrameObservation) {
	a.observations++

	if obs.HasHeartRate() {
		a.heartRate.Add(*obs.HeartRateBPM)
	}
	if obs.HasRespiratoryRate() {
		a.respiratory.Add(*obs.RespiratoryRateBPM)
	}
	if obs.HasTremor() {
		if a.tremorSeen == 0 || *obs.TremorIndex > a.maxTremor {
			a.maxTremor = *obs.TremorIndex
		}
		a.tremorSeen++
	}

	a.addMood(obs.Mood)

	if obs.Posture != "" {
		if _, ok := a.postures[obs.Posture]; !ok {
			a.postureOrder = append(a.postureOrder, obs.Posture)
		}
		a.postures[obs.Posture]++
	}

	for _, c := range obs.Conditions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := a.conditionSeen[c]; ok {
			continue
		}
		a.conditionSeen[c] = struct{}{}
		a.conditions = append(a.conditions, c)
	}
}

func (a *Aggregator) addMood(mood string) {
	mood = strings.TrimSpace(mood)
	if mood == "" || strings.EqualFold(mood, models.MoodUnknown) {
		return
	}
	idx, ok := a.moodIndex[mood]
	if !ok {
		idx = len(a.moods)
		a.moodIndex[mood] = idx
		a.moods = append(a.moods, MoodCount{Mood: mood})
	}
	a.moods[idx].Count++
	// the first mood to reach the max keeps it until strictly exceeded
	if a.moods[idx].Count > a.dominantCount {
		a.dominant = mood
		a.dominantCount = a.moods[idx].Count
	}
}

// Stats is a point-in-time copy of the aggregate.
type Stats struct {
	Observations       int
	AvgHeartRate       float64
	HeartRateSamples   int
	AvgRespiratoryRate float64
	RespiratorySamples int
	MaxTremor          float64
	TremorSamples      int
	DominantMood       string
	Moods              []MoodCount
	DominantPosture    models.PostureScore
	Conditions         []string
}

// HasData reports whether any valid vital, mood or condition was recorded.
func (s Stats) HasData() bool {
	return s.HeartRateSamples > 0 || s.RespiratorySamples > 0 || len(s.Moods) > 0 || len(s.Conditions) > 0
}

func (a *Aggregator) Snapshot() Stats {
	moods := make([]MoodCount, len(a.moods))
	copy(moods, a.moods)
	conditions := make([]string, len(a.conditions))
	copy(conditions, a.conditions)

	return Stats{
		Observations:       a.observations,
		AvgHeartRate:       a.heartRate.Value(),
		HeartRateSamples:   a.heartRate.Count(),
		AvgRespiratoryRate: a.respiratory.Value(),
		RespiratorySamples: a.respiratory.Count(),
		MaxTremor:          a.maxTremor,
		TremorSamples:      a.tremorSeen,
		DominantMood:       a.dominant,
		Moods:              moods,
		DominantPosture:    a.dominantPosture(),
		Conditions:         conditions,
	}
}

func (a *Aggregator) dominantPosture() models.PostureScore {
	var best models.PostureScore
	bestCount := 0
	for _, p := range a.postureOrder {
		if a.postures[p] > bestCount {
			best, bestCount = p, a.postures[p]
		}
	}
	return best
}

var sentinelMarkers = []string{"obvious", "significant", "no symptoms", "no findings", "nothing"}

// IsNegativeSentinel reports whether a condition string is a "nothing found"
// placeholder rather than an actual finding.
func IsNegativeSentinel(condition string) bool {
	c := strings.ToLower(strings.TrimSpace(condition))
	if !strings.HasPrefix(c, "no ") && !strings.HasPrefix(c, "nothing") {
		return false
	}
	for _, m := range sentinelMarkers {
		if strings.Contains(c, m) {
			return true
		}
	}
	return false
}

// FilterConditions prepares the accumulated conditions for display. With more
// than one entry, negative sentinels are dropped because a real finding
// supersedes them. An empty result becomes the given sentinel. A lone entry is
// returned as is.
func FilterConditions(conditions []string, sentinel string) []string {
	if len(conditions) == 0 {
		return []string{sentinel}
	}
	if len(conditions) == 1 {
		return []string{conditions[0]}
	}
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if IsNegativeSentinel(c) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return []string{sentinel}
	}
	return out
}
