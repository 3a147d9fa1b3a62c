package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"VitalsAI/go-backend/internal/database"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
	"VitalsAI/go-backend/internal/services"
	"VitalsAI/go-backend/internal/session"

	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// Sessions is the part of the registry the REST and gRPC handlers use.
type Sessions interface {
	Get(id string) (*session.Actor, error)
	Active() int
}

// ReportArchive looks up reports of sessions that are no longer retained in
// memory.
type ReportArchive interface {
	GetReport(ctx context.Context, sessionID string) (*models.ReportRecord, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// API serves the agent REST endpoints. Renderer, Archive and Estimator may be
// nil.
type API struct {
	Sessions  Sessions
	Renderer  services.Renderer
	Archive   ReportArchive
	Estimator HealthChecker
	Policy    *policy.Policy
	Metrics   *services.Metrics
	Origins   string
	Logger    *zap.Logger
	started   time.Time
}

// Routes registers the REST endpoints on mux.
func (a *API) Routes(mux *http.ServeMux) {
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	if a.Metrics == nil {
		a.Metrics = services.GetMetrics()
	}
	if a.Origins == "" {
		a.Origins = "*"
	}
	a.started = time.Now()

	mux.HandleFunc("/api/agent/start", a.StartAgent)
	mux.HandleFunc("/api/agent/stop", a.StopAgent)
	mux.HandleFunc("/api/agent/status", a.Status)
	mux.HandleFunc("/api/agent/assessment", a.Assessment)
	mux.HandleFunc("/api/agent/report", a.Report)
	mux.HandleFunc("/api/agent/contract", a.Contract)
	mux.HandleFunc("/api/generate-pdf", a.GeneratePDF)
	mux.HandleFunc("/api/health", a.Health)
	mux.HandleFunc("/api/metrics", a.MetricsSnapshot)
}

func (a *API) enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", a.Origins)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// preflight applies CORS headers and the method check. It returns false when
// the request has been answered.
func (a *API) preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	a.enableCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// sessionError maps registry and actor errors to HTTP statuses.
func sessionError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, "Session already closed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Session did not respond"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// deliver sends a command to a live session and answers with its snapshot.
func (a *API) deliver(w http.ResponseWriter, r *http.Request, id string, in models.Inbound) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	actor, err := a.Sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := actor.Deliver(ctx, in); err != nil {
		code, msg := sessionError(err)
		a.Logger.Warn("agent command failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, code, msg)
		return
	}
	view, err := actor.Query(ctx)
	if err != nil {
		code, msg := sessionError(err)
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view.Snapshot)
}

func (a *API) StartAgent(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodPost) {
		return
	}
	var req models.StartAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.CallType == "" {
		req.CallType = "default"
	}
	if req.CallID == "" {
		req.CallID = "default"
	}
	a.deliver(w, r, req.SessionID, models.StartAgent{CallType: req.CallType, CallID: req.CallID})
}

func (a *API) StopAgent(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodPost) {
		return
	}
	var req models.StopAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	a.deliver(w, r, req.SessionID, models.StopAgent{})
}

// view returns the current view of a live or retained session.
func (a *API) view(w http.ResponseWriter, r *http.Request) (session.View, bool) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return session.View{}, false
	}
	actor, err := a.Sessions.Get(id)
	if err != nil {
		code, msg := sessionError(err)
		writeError(w, code, msg)
		return session.View{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	v, err := actor.Query(ctx)
	if err != nil {
		code, msg := sessionError(err)
		writeError(w, code, msg)
		return session.View{}, false
	}
	return v, true
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	if v, ok := a.view(w, r); ok {
		writeJSON(w, http.StatusOK, v.Snapshot)
	}
}

func (a *API) Assessment(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	if v.Assessment == nil {
		writeError(w, http.StatusNotFound, "Assessment not available yet")
		return
	}
	writeJSON(w, http.StatusOK, v.Assessment)
}

// Report serves the rendered document of a session, from memory or from the
// archive. format=json returns the report itself.
func (a *API) Report(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	asJSON := r.URL.Query().Get("format") == "json"

	var (
		rep *models.Report
		doc []byte
	)
	if actor, err := a.Sessions.Get(id); err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		v, err := actor.Query(ctx)
		cancel()
		if err == nil {
			rep, doc = v.Report, v.Document
		}
	}
	if rep == nil && a.Archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		rec, err := a.Archive.GetReport(ctx, id)
		cancel()
		switch {
		case err == nil:
			rep, doc = &rec.Report, rec.Document
		case !errors.Is(err, database.ErrReportNotFound):
			a.Logger.Error("report archive lookup failed", zap.String("session_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	switch {
	case rep == nil:
		writeError(w, http.StatusNotFound, "Report not found")
	case asJSON:
		writeJSON(w, http.StatusOK, rep)
	case len(doc) == 0:
		writeError(w, http.StatusNotFound, "Report document not available")
	default:
		writeDocument(w, doc)
	}
}

func writeDocument(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="health_report.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (a *API) Contract(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	p := a.Policy
	if p == nil {
		p = policy.Default()
	}
	writeJSON(w, http.StatusOK, p.Contract())
}

func (a *API) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodPost) {
		return
	}
	var summary models.SessionSummary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if a.Renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "Document renderer not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	doc, err := a.Renderer.Render(ctx, summary)
	if err != nil {
		a.Logger.Warn("generate pdf failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Document rendering failed")
		return
	}
	writeDocument(w, doc)
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	estimator := false
	if a.Estimator != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		estimator = a.Estimator.HealthCheck(ctx)
		cancel()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"estimator":       estimator,
		"active_sessions": a.Sessions.Active(),
		"active_clients":  a.Metrics.GetWebSocketConnections(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

func (a *API) MetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	snap := a.Metrics.Snapshot(a.Sessions.Active())
	snap["system_uptime_sec"] = int(time.Since(a.started).Seconds())
	snap["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snap)
}
