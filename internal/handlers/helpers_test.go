package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
	"VitalsAI/go-backend/internal/session"

	"github.com/stretchr/testify/require"
)

type stubEstimator struct{}

func (stubEstimator) Estimate(context.Context, []byte) (models.FrameObservation, error) {
	hr, rr, tremor := 72.0, 15.0, 0.01
	return models.FrameObservation{
		HeartRateBPM:       &hr,
		RespiratoryRateBPM: &rr,
		TremorIndex:        &tremor,
		Mood:               "Calm",
		Confidence:         0.9,
		Posture:            models.PostureGood,
		Conditions:         []string{"No obvious symptoms detected"},
		FaceDetected:       true,
	}, nil
}

type stubReports struct {
	doc []byte
}

func (s stubReports) HandleReport(context.Context, *models.Report) ([]byte, error) {
	return s.doc, nil
}

type collectingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *collectingSink) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func newRegistry(t *testing.T, reports session.ReportHandler) *session.Registry {
	t.Helper()
	cfg := session.Config{
		Timing: session.Timing{
			SetupWindow:    time.Hour,
			IntakeGrace:    time.Hour,
			BaselineWindow: time.Hour,
		},
		EstimatorTimeout: time.Second,
		ReportTimeout:    time.Second,
		InboxSize:        16,
	}
	reg := session.NewRegistry(cfg, session.Deps{
		Policy:    policy.Default(),
		Estimator: stubEstimator{},
		Reports:   reports,
	}, 10, 10)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

func openSession(t *testing.T, reg *session.Registry, id string) *session.Actor {
	t.Helper()
	a, err := reg.Open(id, &collectingSink{})
	require.NoError(t, err)
	return a
}
