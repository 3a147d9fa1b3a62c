package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// scriptedEstimator answers every frame with the observation registered for
// its payload.
type scriptedEstimator struct {
	mu   sync.Mutex
	obs  map[string]models.FrameObservation
	errs map[string]error
}

func newEstimator() *scriptedEstimator {
	return &scriptedEstimator{obs: map[string]models.FrameObservation{}, errs: map[string]error{}}
}

func (e *scriptedEstimator) on(payload string, obs models.FrameObservation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs[payload] = obs
}

func (e *scriptedEstimator) fail(payload string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[payload] = err
}

func (e *scriptedEstimator) Estimate(_ context.Context, frame []byte) (models.FrameObservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.errs[string(frame)]; ok {
		return models.FrameObservation{}, err
	}
	obs, ok := e.obs[string(frame)]
	if !ok {
		return models.FrameObservation{}, errors.New("unexpected frame")
	}
	return obs, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *recordingSink) kinds() []models.EventKind {
	var out []models.EventKind
	for _, ev := range s.all() {
		out = append(out, ev.Kind())
	}
	return out
}

func (s *recordingSink) statuses() []models.AgentStatusEvent {
	var out []models.AgentStatusEvent
	for _, ev := range s.all() {
		if st, ok := ev.(models.AgentStatusEvent); ok {
			out = append(out, st)
		}
	}
	return out
}

func (s *recordingSink) frames() []models.FrameResult {
	var out []models.FrameResult
	for _, ev := range s.all() {
		if fr, ok := ev.(models.FrameResult); ok {
			out = append(out, fr)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	flags []models.EscalationFlag
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, _ string, flag models.EscalationFlag) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flags = append(n.flags, flag)
	return nil
}

func (n *recordingNotifier) all() []models.EscalationFlag {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.EscalationFlag(nil), n.flags...)
}

type recordingReports struct {
	mu      sync.Mutex
	reports []*models.Report
}

func (h *recordingReports) HandleReport(_ context.Context, r *models.Report) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
	return []byte("%PDF-1.4 " + r.SessionID), nil
}

func (h *recordingReports) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports)
}

type harness struct {
	t         *testing.T
	actor     *Actor
	clock     *fakeClock
	estimator *scriptedEstimator
	sink      *recordingSink
	notifier  *recordingNotifier
	reports   *recordingReports
	policy    *policy.Policy
}

func testConfig() Config {
	return Config{
		Timing:           testTiming,
		EstimatorTimeout: time.Second,
		ReportTimeout:    time.Second,
		InboxSize:        16,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		clock:     newFakeClock(),
		estimator: newEstimator(),
		sink:      &recordingSink{},
		notifier:  &recordingNotifier{},
		reports:   &recordingReports{},
		policy:    policy.Default(),
	}
	h.actor = NewActor("sess-1", h.sink, cfg, Deps{
		Policy:    h.policy,
		Estimator: h.estimator,
		Notifier:  h.notifier,
		Reports:   h.reports,
		Clock:     h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.actor.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.actor.Done()
	})

	h.estimator.on("clean", models.FrameObservation{FaceDetected: true, Confidence: 0.9, Mood: "Calm", Posture: models.PostureGood})
	h.estimator.on("vitals", models.FrameObservation{
		FaceDetected: true, Confidence: 0.9, Mood: "Calm", Posture: models.PostureGood,
		HeartRateBPM: ptr(72), RespiratoryRateBPM: ptr(15), TremorIndex: ptr(0.01),
		Conditions: []string{"No obvious symptoms detected"},
	})
	return h
}

// send delivers a command and waits until the actor has handled it.
func (h *harness) send(in models.Inbound) {
	h.t.Helper()
	require.NoError(h.t, h.actor.Deliver(context.Background(), in))
}

// frame delivers a frame and waits for it to be processed.
func (h *harness) frame(payload string) {
	h.t.Helper()
	require.NoError(h.t, h.actor.Deliver(context.Background(), models.FrameMessage{Payload: []byte(payload)}))
	h.sync()
}

func (h *harness) sync() View {
	h.t.Helper()
	v, err := h.actor.Query(context.Background())
	require.NoError(h.t, err)
	return v
}

// advance moves the clock and lets any timer message be handled.
func (h *harness) advance(d time.Duration) View {
	h.t.Helper()
	h.clock.Advance(d)
	return h.sync()
}

// toMonitoring drives the session through setup, intake and baseline.
func (h *harness) toMonitoring() {
	h.t.Helper()
	h.send(models.StartAgent{CallType: "default", CallID: "call-1"})
	h.frame("clean")
	h.clock.Advance(3 * time.Second)
	h.frame("clean")
	h.send(models.SkipAnthropometrics{})
	h.clock.Advance(time.Second)
	h.frame("vitals")
	v := h.advance(9 * time.Second)
	require.Equal(h.t, models.PhaseMonitoring, v.Snapshot.Phase)
}
