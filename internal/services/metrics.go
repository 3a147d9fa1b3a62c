package services

import (
	"sync"
	"sync/atomic"
	"time"

	"VitalsAI/go-backend/internal/models"
)

// Metrics are process wide counters served on /api/metrics. They also satisfy
// session.Recorder.
type Metrics struct {
	totalFrames     atomic.Int64
	totalErrors     atomic.Int64
	totalLatency    atomic.Int64
	droppedFrames   atomic.Int64
	lastFrameTime   atomic.Int64
	warnings        atomic.Int64
	criticals       atomic.Int64
	reportsArchived atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func NewMetrics() *Metrics {
	return &Metrics{}
}

func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics()
	})
	return metricsInstance
}

func (m *Metrics) FrameProcessed(latency time.Duration) {
	m.totalFrames.Add(1)
	m.totalLatency.Add(latency.Milliseconds())
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) FrameDropped() {
	m.droppedFrames.Add(1)
}

func (m *Metrics) EstimatorFailed() {
	m.totalErrors.Add(1)
}

func (m *Metrics) EscalationRaised(severity models.Severity) {
	switch severity {
	case models.SeverityCritical:
		m.criticals.Add(1)
	case models.SeverityWarning:
		m.warnings.Add(1)
	}
}

func (m *Metrics) ReportArchived() {
	m.reportsArchived.Add(1)
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetTotalErrors() int64 {
	return m.totalErrors.Load()
}

func (m *Metrics) GetDroppedFrames() int64 {
	return m.droppedFrames.Load()
}

// GetAvgLatency is the mean estimator round trip in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames)
}

func (m *Metrics) GetLastFrameTime() int64 {
	return m.lastFrameTime.Load()
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter keyed the way /api/metrics reports them.
func (m *Metrics) Snapshot(activeSessions int) map[string]interface{} {
	return map[string]interface{}{
		"total_frames":     m.totalFrames.Load(),
		"total_errors":     m.totalErrors.Load(),
		"dropped_frames":   m.droppedFrames.Load(),
		"avg_latency_ms":   m.GetAvgLatency(),
		"last_frame_time":  m.lastFrameTime.Load(),
		"active_sessions":  activeSessions,
		"escalations":      map[string]int64{"warning": m.warnings.Load(), "critical": m.criticals.Load()},
		"reports_archived": m.reportsArchived.Load(),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
