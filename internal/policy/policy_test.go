package policy

import (
	"os"
	"path/filepath"
	"testing"

	"VitalsAI/go-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()

	assert.Equal(t, 100.0, p.Thresholds.HeartRate.NormalMax)
	assert.Equal(t, 0.5, p.Thresholds.Tremor.Critical)
	assert.Contains(t, p.Symptoms.Acute, "chest pain")
	assert.NotEmpty(t, p.Disclaimer)
	assert.Equal(t, "No significant conditions detected", p.NoConditionSentinel)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds:
  tremor:
    elevated: 0.1
    critical: 0.9
disclaimer: "Not a diagnosis."
`), 0o600))

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, p.Thresholds.Tremor.Critical)
	assert.Equal(t, "Not a diagnosis.", p.Disclaimer)
	// untouched sections come from the embedded file
	assert.Equal(t, 50.0, p.Thresholds.HeartRate.NormalMin)
	assert.NotEmpty(t, p.Symptoms.Minor)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholdz: {}\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInconsistentRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds:
  heart_rate:
    normal_min: 120
    normal_max: 100
    critical_low: 40
    critical_high: 150
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heart_rate")
}

func TestRange(t *testing.T) {
	r := Range{NormalMin: 50, NormalMax: 100, CriticalLow: 40, CriticalHigh: 150}

	assert.False(t, r.OutsideNormal(72))
	assert.True(t, r.OutsideNormal(101))
	assert.True(t, r.OutsideNormal(45))
	assert.False(t, r.Critical(45))
	assert.True(t, r.Critical(40))
	assert.True(t, r.Critical(160))
}

func TestContract_PhaseOrdered(t *testing.T) {
	c := Default().Contract()

	require.Len(t, c.Phases, 8)
	assert.Equal(t, models.PhaseGreeting, c.Phases[0].Phase)
	assert.Equal(t, models.PhaseEscalated, c.Phases[7].Phase)
	for i := 1; i < len(c.Phases); i++ {
		assert.Greater(t, int(c.Phases[i].Phase), int(c.Phases[i-1].Phase))
	}
	assert.Equal(t, Default().Disclaimer, c.Disclaimer)
}
