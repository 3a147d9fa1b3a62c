package escalation

import (
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
)

// Window is the short history the observation rules look at. It is a value:
// the session actor keeps the current one and replaces it with Advance.
type Window struct {
	NoFaceStreak   int
	CriticalStreak int

	LastHeartRate       float64
	LastRespiratoryRate float64
}

// Advance folds one observation into the window.
//
// A frame without a usable face extends the no-face streak. A frame carrying
// at least one critical reading extends the critical streak; a frame with only
// non-critical readings resets it. Frames without any reading leave it alone.
func Advance(w Window, obs models.FrameObservation, t policy.Thresholds) Window {
	if obs.FaceDetected {
		w.NoFaceStreak = 0
	} else {
		w.NoFaceStreak++
	}

	if obs.HasHeartRate() {
		w.LastHeartRate = *obs.HeartRateBPM
	}
	if obs.HasRespiratoryRate() {
		w.LastRespiratoryRate = *obs.RespiratoryRateBPM
	}

	switch {
	case criticalReading(obs, t):
		w.CriticalStreak++
	case obs.HasHeartRate() || obs.HasRespiratoryRate():
		w.CriticalStreak = 0
	}
	return w
}

// LastVitalsAbnormal reports whether the most recent valid readings were
// outside their normal range.
func (w Window) LastVitalsAbnormal(t policy.Thresholds) bool {
	if w.LastHeartRate > 0 && t.HeartRate.OutsideNormal(w.LastHeartRate) {
		return true
	}
	return w.LastRespiratoryRate > 0 && t.RespiratoryRate.OutsideNormal(w.LastRespiratoryRate)
}

func criticalReading(obs models.FrameObservation, t policy.Thresholds) bool {
	if obs.HasHeartRate() && t.HeartRate.Critical(*obs.HeartRateBPM) {
		return true
	}
	return obs.HasRespiratoryRate() && t.RespiratoryRate.Critical(*obs.RespiratoryRateBPM)
}

// OutOfRange reports whether any current reading is outside normal bounds.
// Used for the elevated frame status as well as the warning rule.
func OutOfRange(obs models.FrameObservation, t policy.Thresholds) bool {
	if obs.HasHeartRate() && t.HeartRate.OutsideNormal(*obs.HeartRateBPM) {
		return true
	}
	if obs.HasRespiratoryRate() && t.RespiratoryRate.OutsideNormal(*obs.RespiratoryRateBPM) {
		return true
	}
	return obs.HasTremor() && *obs.TremorIndex >= t.Tremor.Elevated
}
