package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"VitalsAI/go-backend/internal/aggregator"
	"VitalsAI/go-backend/internal/escalation"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
	"VitalsAI/go-backend/internal/report"

	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrInboxFull     = errors.New("session inbox full")
)

// Estimator turns one encoded frame into an observation.
type Estimator interface {
	Estimate(ctx context.Context, frame []byte) (models.FrameObservation, error)
}

// Sink delivers outbound events to the connected client. Send must not block
// for long; the websocket client queues and drops.
type Sink interface {
	Send(ev models.Event) error
}

// Notifier publishes escalation flags to care staff.
type Notifier interface {
	NotifyEscalation(ctx context.Context, sessionID string, flag models.EscalationFlag) error
}

// ReportHandler receives the final report of a closed session and returns the
// rendered document, if any.
type ReportHandler interface {
	HandleReport(ctx context.Context, r *models.Report) ([]byte, error)
}

// Recorder collects operational counters.
type Recorder interface {
	FrameProcessed(latency time.Duration)
	FrameDropped()
	EstimatorFailed()
	EscalationRaised(severity models.Severity)
}

type Config struct {
	Timing             Timing
	SummaryPromptAfter time.Duration
	EstimatorTimeout   time.Duration
	ReportTimeout      time.Duration
	InboxSize          int
}

// Deps are shared by every actor. Notifier, Reports and Metrics are optional.
type Deps struct {
	Policy    *policy.Policy
	Estimator Estimator
	Notifier  Notifier
	Reports   ReportHandler
	Metrics   Recorder
	Clock     Clock
	Logger    *zap.Logger
}

// View is the read-only state served to REST and gRPC callers. Report,
// Assessment and Document are immutable once set.
type View struct {
	Snapshot   models.SessionSnapshot
	Assessment *models.Assessment
	Report     *models.Report
	Document   []byte
}

type timerKind int

const (
	baselineTimer timerKind = iota
	summaryTimer
)

type inboundMsg struct {
	in    models.Inbound
	reply chan struct{}
}

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type queryMsg struct {
	reply chan View
}

type disconnectMsg struct{}

// Actor is the single goroutine that owns one session. Everything below the
// channel fields is touched only from run.
type Actor struct {
	id     string
	cfg    Config
	deps   Deps
	eval   *escalation.Evaluator
	logger *zap.Logger

	inbox      chan any
	done       chan struct{}
	disconnect sync.Once
	view       atomic.Pointer[View]
	dropped    atomic.Int64

	sink      Sink
	machine   *Machine
	agg       *aggregator.Aggregator
	window    escalation.Window
	flag      models.EscalationFlag
	remedies  []string
	callType  string
	callID    string
	createdAt time.Time
	startedAt time.Time
	frames    int
	lastErr   string

	timers   [2]Timer
	timerGen [2]uint64

	assessment *models.Assessment
	report     *models.Report
	document   []byte
}

func NewActor(id string, sink Sink, cfg Config, deps Deps) *Actor {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 32
	}
	a := &Actor{
		id:        id,
		cfg:       cfg,
		deps:      deps,
		eval:      escalation.NewEvaluator(deps.Policy),
		logger:    deps.Logger.With(zap.String("session_id", id)),
		inbox:     make(chan any, cfg.InboxSize),
		done:      make(chan struct{}),
		sink:      sink,
		machine:   NewMachine(cfg.Timing),
		agg:       aggregator.New(),
		createdAt: deps.Clock.Now(),
	}
	a.publish()
	return a
}

func (a *Actor) ID() string {
	return a.id
}

// Done is closed once the actor goroutine has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Dropped is the number of frames dropped because the inbox was full.
func (a *Actor) Dropped() int64 {
	return a.dropped.Load()
}

// Deliver hands an inbound message to the actor. Frames never block: when the
// inbox is full they are dropped with ErrInboxFull. Commands wait for room and
// for the actor to finish handling them.
func (a *Actor) Deliver(ctx context.Context, in models.Inbound) error {
	select {
	case <-a.done:
		return ErrSessionClosed
	default:
	}

	if _, ok := in.(models.FrameMessage); ok {
		select {
		case a.inbox <- inboundMsg{in: in}:
			return nil
		default:
			a.dropped.Add(1)
			a.deps.Metrics.FrameDropped()
			return ErrInboxFull
		}
	}

	msg := inboundMsg{in: in, reply: make(chan struct{})}
	select {
	case a.inbox <- msg:
	case <-a.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-msg.reply:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query asks the actor for its current view, ordered after any message already
// queued. Once the actor has exited the last published view answers.
func (a *Actor) Query(ctx context.Context) (View, error) {
	q := queryMsg{reply: make(chan View, 1)}
	select {
	case a.inbox <- q:
	case <-a.done:
		return a.Last(), nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-q.reply:
		return v, nil
	case <-a.done:
		return a.Last(), nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Last returns the most recently published view without going through the
// inbox.
func (a *Actor) Last() View {
	return *a.view.Load()
}

// Disconnect tears the session down as if stop_agent had been received and
// ends the actor. It is safe to call more than once.
func (a *Actor) Disconnect() {
	a.disconnect.Do(func() {
		go func() {
			select {
			case a.inbox <- disconnectMsg{}:
			case <-a.done:
			}
		}()
	})
}

// Run processes the inbox until Disconnect or ctx cancellation.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	a.logger.Debug("session actor started")

	for {
		select {
		case <-ctx.Done():
			a.teardown(context.WithoutCancel(ctx))
			a.publish()
			return
		case raw := <-a.inbox:
			switch msg := raw.(type) {
			case inboundMsg:
				a.handleInbound(ctx, msg.in)
				if msg.reply != nil {
					close(msg.reply)
				}
			case timerMsg:
				a.handleTimer(ctx, msg)
			case queryMsg:
				msg.reply <- a.current()
				continue
			case disconnectMsg:
				a.teardown(ctx)
				a.publish()
				a.logger.Debug("session actor stopped", zap.Int("frames", a.frames))
				return
			}
			a.publish()
		}
	}
}

func (a *Actor) handleInbound(ctx context.Context, in models.Inbound) {
	now := a.deps.Clock.Now()
	switch m := in.(type) {
	case models.FrameMessage:
		a.handleFrame(ctx, m.Payload)
	case models.StartAgent:
		a.start(m, now)
	case models.StopAgent:
		a.stop(ctx, now, true)
	case models.GetStatus:
		a.emitStatus("")
	case models.SubmitAnthropometrics:
		am, ok := models.NewAnthropometrics(m.HeightCm, m.WeightKg)
		if !ok {
			a.logger.Debug("ignoring invalid anthropometrics", zap.Float64("height_cm", m.HeightCm), zap.Float64("weight_kg", m.WeightKg))
			return
		}
		step, err := a.machine.SubmitAnthropometrics(am, now)
		a.applyStep(step, err)
	case models.SkipAnthropometrics:
		step, err := a.machine.SkipIntake(now)
		a.applyStep(step, err)
	case models.RequestSymptomCheck:
		step, err := a.machine.RequestSymptomCheck(now)
		a.applyStep(step, err)
	case models.ReportSymptom:
		a.handleSymptom(ctx, m.Text, now)
	case models.SkipSymptoms:
		step, err := a.machine.CompleteSymptoms(now)
		a.applyStep(step, err)
	default:
		a.logger.Warn("unhandled inbound message", zap.String("type", fmt.Sprintf("%T", in)))
	}
}

func (a *Actor) start(m models.StartAgent, now time.Time) {
	if a.machine.Phase() != models.PhaseGreeting {
		a.emitStatus("")
		return
	}
	a.callType, a.callID = m.CallType, m.CallID
	a.startedAt = now

	a.emitPhaseStatus(models.PhaseGreeting, a.deps.Policy.Prompts.Greeting)
	step, err := a.machine.Begin(now)
	a.applyStep(step, err)
	if a.cfg.SummaryPromptAfter > 0 {
		a.arm(summaryTimer, a.cfg.SummaryPromptAfter)
	}
	a.logger.Info("session started", zap.String("call_type", a.callType), zap.String("call_id", a.callID))
}

func (a *Actor) handleFrame(ctx context.Context, payload []byte) {
	began := a.deps.Clock.Now()
	ectx := ctx
	if a.cfg.EstimatorTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, a.cfg.EstimatorTimeout)
		defer cancel()
	}
	obs, err := a.deps.Estimator.Estimate(ectx, payload)
	if err != nil {
		a.deps.Metrics.EstimatorFailed()
		a.lastErr = err.Error()
		a.logger.Warn("frame estimation failed", zap.Error(err))
		a.emit(models.NewAgentError(fmt.Errorf("estimate frame: %w", err)))
		return
	}
	now := a.deps.Clock.Now()
	obs.Timestamp = now
	a.frames++
	a.deps.Metrics.FrameProcessed(now.Sub(began))

	th := a.eval.Thresholds()
	lowConfidence := obs.Confidence < th.LowConfidence
	if lowConfidence {
		obs = obs.WithoutReadings()
	}
	status := frameStatus(obs, lowConfidence, th)

	phase := a.machine.Phase()
	if !phase.Started() {
		// before start and after close frames are reported but not aggregated
		a.emit(models.NewFrameResult(obs, status, a.agentStatus()))
		return
	}

	a.agg.Add(obs)
	a.window = escalation.Advance(a.window, obs, th)
	d := a.eval.EvaluateObservation(a.flag, obs, a.window)

	if phase == models.PhaseEscalated {
		a.raise(ctx, d)
		return
	}
	if d.Escalate {
		a.raise(ctx, d)
		a.escalate(now)
		return
	}

	a.emit(models.NewFrameResult(obs, status, a.agentStatus()))
	a.applyStep(a.machine.Observe(obs), nil)
	if d.Changed {
		a.raise(ctx, d)
		a.emitStatus("")
	}
}

func frameStatus(obs models.FrameObservation, lowConfidence bool, th policy.Thresholds) models.FrameStatus {
	switch {
	case !obs.FaceDetected:
		return models.FrameNoFace
	case lowConfidence:
		return models.FrameAnalyzing
	case escalation.OutOfRange(obs, th):
		return models.FrameElevated
	default:
		return models.FrameAnalyzing
	}
}

func (a *Actor) handleSymptom(ctx context.Context, text string, now time.Time) {
	phase := a.machine.Phase()
	if !phase.Started() || phase == models.PhaseEscalated {
		return
	}
	d := a.eval.EvaluateSymptom(a.flag, text, now)
	if d.Escalate {
		a.raise(ctx, d)
		a.escalate(now)
		return
	}
	a.logger.Info("symptom reported", zap.String("class", d.Class), zap.Int("remedies", len(d.Remedies)))
	if len(d.Remedies) > 0 {
		a.remedies = append(a.remedies, d.Remedies...)
		a.emit(models.AgentStatusEvent{
			SessionID: a.id,
			Status:    a.agentStatus(),
			Phase:     phase,
			CallType:  a.callType,
			CallID:    a.callID,
			Remedies:  d.Remedies,
		})
	}
	if phase == models.PhaseSymptomCheck {
		step, err := a.machine.CompleteSymptoms(now)
		a.applyStep(step, err)
	}
}

// raise records a flag change and notifies care staff.
func (a *Actor) raise(ctx context.Context, d escalation.Decision) {
	if !d.Changed {
		return
	}
	a.flag = d.Flag
	a.deps.Metrics.EscalationRaised(d.Flag.Severity)
	a.logger.Warn("escalation flag raised",
		zap.String("severity", d.Flag.Severity.String()),
		zap.String("rule", d.Flag.Rule),
		zap.String("reason", d.Flag.Reason),
	)
	if a.deps.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.deps.Notifier.NotifyEscalation(nctx, a.id, d.Flag); err != nil {
		a.logger.Error("publish escalation failed", zap.Error(err))
	}
}

func (a *Actor) escalate(now time.Time) {
	step, err := a.machine.Escalate(now)
	if err != nil {
		return
	}
	a.cancelTimers()
	a.logger.Warn("session escalated", zap.String("from", step.From.String()))
	p := a.deps.Policy
	a.emitStatus(p.Prompts.Escalated + " " + p.EscalationGuidance)
}

func (a *Actor) handleTimer(ctx context.Context, msg timerMsg) {
	if msg.gen != a.timerGen[msg.kind] {
		return
	}
	a.timers[msg.kind] = nil
	now := a.deps.Clock.Now()

	switch msg.kind {
	case baselineTimer:
		a.applyStep(a.machine.BaselineTimerFired(now), nil)
	case summaryTimer:
		phase := a.machine.Phase()
		if phase == models.PhaseMonitoring {
			a.applyStep(a.machine.SummaryDue(now), nil)
			return
		}
		if phase.Started() && phase < models.PhaseSymptomCheck {
			a.emitStatus(a.deps.Policy.Prompts.SummarySuggestion)
		}
	}
}

// applyStep turns a machine step into events and timer changes. Rejected
// transitions are logged and otherwise ignored.
func (a *Actor) applyStep(step Step, err error) {
	if err != nil {
		a.logger.Debug("transition rejected", zap.Error(err))
		return
	}
	if step.Corrective {
		a.emitStatus(a.deps.Policy.Prompts.SetupCorrective)
	}
	if step.BaselineRestarted {
		a.logger.Info("baseline window empty, restarting")
		a.arm(baselineTimer, a.cfg.Timing.BaselineWindow)
	}
	if !step.Changed() {
		return
	}
	a.logger.Info("phase changed", zap.String("from", step.From.String()), zap.String("phase", step.To.String()))

	if step.From == models.PhaseBaselineCapture {
		a.cancel(baselineTimer)
	}
	switch step.To {
	case models.PhaseBaselineCapture:
		a.arm(baselineTimer, a.cfg.Timing.BaselineWindow)
	case models.PhaseSymptomCheck:
		a.cancel(summaryTimer)
	case models.PhaseConclusion:
		a.conclude(a.deps.Clock.Now())
		return
	}
	a.emitPhaseStatus(step.To, a.deps.Policy.PromptFor(step.To))
}

// conclude fixes the assessment the user is shown. It is built from the data
// up to this moment and is not rebuilt at stop, so the final report may cover a
// longer stretch and carry later remedies than the assessment does.
func (a *Actor) conclude(now time.Time) {
	p := a.deps.Policy
	a.cancelTimers()
	r := report.Build(a.reportInput(now), p)
	a.assessment = report.BuildAssessment(r, p)
	a.emitPhaseStatus(models.PhaseConclusion, p.Prompts.Conclusion)
	a.emit(models.NewAssessmentEvent(a.assessment))
}

// stop closes a started session and hands its report off. emit is false when
// the client is already gone.
func (a *Actor) stop(ctx context.Context, now time.Time, emit bool) {
	phase := a.machine.Phase()
	if !phase.Started() {
		if emit {
			a.emitStatus("")
		}
		return
	}
	if emit {
		a.emit(models.AgentStatusEvent{
			SessionID: a.id,
			Status:    models.StatusStopping,
			Phase:     phase,
			CallType:  a.callType,
			CallID:    a.callID,
		})
	}
	a.cancelTimers()
	if _, err := a.machine.Close(now); err != nil {
		return
	}

	a.report = report.Build(a.reportInput(now), a.deps.Policy)
	if a.assessment == nil {
		a.assessment = report.BuildAssessment(a.report, a.deps.Policy)
	}
	a.logger.Info("session closed",
		zap.String("report_status", string(a.report.Status)),
		zap.String("digest", a.report.Digest),
		zap.Int("frames", a.frames),
	)

	if a.deps.Reports != nil {
		rctx := ctx
		if a.cfg.ReportTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, a.cfg.ReportTimeout)
			defer cancel()
		}
		doc, err := a.deps.Reports.HandleReport(rctx, a.report)
		if err != nil {
			a.lastErr = err.Error()
			a.logger.Error("report handoff failed", zap.Error(err))
		}
		a.document = doc
	}

	if emit {
		a.emitStatus("")
		a.emit(models.NewAgentStopped(a.id))
	}
}

func (a *Actor) teardown(ctx context.Context) {
	a.stop(ctx, a.deps.Clock.Now(), false)
	a.cancelTimers()
}

func (a *Actor) reportInput(now time.Time) report.Input {
	return report.Input{
		SessionID:       a.id,
		StartedAt:       a.startedAt,
		EndedAt:         now,
		Baseline:        a.machine.Baseline(),
		Anthropometrics: a.machine.Anthropometrics(),
		Stats:           a.agg.Snapshot(),
		Flag:            a.flag,
		Remedies:        a.remedies,
	}
}

func (a *Actor) arm(kind timerKind, d time.Duration) {
	a.cancel(kind)
	if d <= 0 {
		return
	}
	gen := a.timerGen[kind]
	a.timers[kind] = a.deps.Clock.AfterFunc(d, func() {
		select {
		case a.inbox <- timerMsg{kind: kind, gen: gen}:
		case <-a.done:
		}
	})
}

// cancel stops a timer and bumps its generation so a fire already queued in
// the inbox is ignored.
func (a *Actor) cancel(kind timerKind) {
	a.timerGen[kind]++
	if t := a.timers[kind]; t != nil {
		t.Stop()
		a.timers[kind] = nil
	}
}

func (a *Actor) cancelTimers() {
	a.cancel(baselineTimer)
	a.cancel(summaryTimer)
}

func (a *Actor) agentStatus() models.AgentStatus {
	phase := a.machine.Phase()
	if phase == models.PhaseGreeting {
		return models.StatusIdle
	}
	return models.StatusForPhase(phase)
}

func (a *Actor) emitStatus(message string) {
	ev := models.AgentStatusEvent{
		SessionID: a.id,
		Status:    a.agentStatus(),
		Phase:     a.machine.Phase(),
		CallType:  a.callType,
		CallID:    a.callID,
		Message:   message,
	}
	if a.flag.Severity != models.SeverityNone {
		flag := a.flag
		ev.Escalation = &flag
	}
	a.emit(ev)
}

func (a *Actor) emitPhaseStatus(phase models.Phase, message string) {
	ev := models.AgentStatusEvent{
		SessionID: a.id,
		Status:    models.StatusForPhase(phase),
		Phase:     phase,
		CallType:  a.callType,
		CallID:    a.callID,
		Message:   message,
	}
	if a.flag.Severity != models.SeverityNone {
		flag := a.flag
		ev.Escalation = &flag
	}
	a.emit(ev)
}

func (a *Actor) emit(ev models.Event) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Send(ev); err != nil {
		a.logger.Debug("dropping outbound event", zap.String("event", string(ev.Kind())), zap.Error(err))
	}
}

func (a *Actor) current() View {
	snap := models.SessionSnapshot{
		SessionID:       a.id,
		Status:          a.agentStatus(),
		Phase:           a.machine.Phase(),
		CallType:        a.callType,
		CallID:          a.callID,
		CreatedAt:       a.createdAt,
		Escalation:      a.flag.State(),
		Baseline:        a.machine.Baseline(),
		Anthropometrics: a.machine.Anthropometrics(),
		FramesProcessed: a.frames,
		HasAssessment:   a.assessment != nil,
		HasReport:       a.report != nil,
		HasDocument:     len(a.document) > 0,
		Error:           a.lastErr,
	}
	if a.flag.Severity != models.SeverityNone {
		flag := a.flag
		snap.Flag = &flag
	}
	return View{
		Snapshot:   snap,
		Assessment: a.assessment,
		Report:     a.report,
		Document:   a.document,
	}
}

func (a *Actor) publish() {
	v := a.current()
	a.view.Store(&v)
}

type nopRecorder struct{}

func (nopRecorder) FrameProcessed(time.Duration)     {}
func (nopRecorder) FrameDropped()                    {}
func (nopRecorder) EstimatorFailed()                 {}
func (nopRecorder) EscalationRaised(models.Severity) {}
