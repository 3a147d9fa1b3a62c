package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VitalsAI/go-backend/internal/database"
	"VitalsAI/go-backend/internal/models"
	"VitalsAI/go-backend/internal/policy"
	"VitalsAI/go-backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	err error
}

func (s stubRenderer) Render(_ context.Context, summary models.SessionSummary) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF " + summary.DominantMood), nil
}

type stubArchive struct {
	records map[string]models.ReportRecord
	err     error
}

func (s stubArchive) GetReport(_ context.Context, id string) (*models.ReportRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, database.ErrReportNotFound
	}
	return &rec, nil
}

type stubHealth bool

func (s stubHealth) HealthCheck(context.Context) bool { return bool(s) }

func newAPI(t *testing.T, api *API) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPI_StartStatusStop(t *testing.T) {
	reg := newRegistry(t, nil)
	openSession(t, reg, "sess-1")
	srv := newAPI(t, &API{Sessions: reg})

	resp := postJSON(t, srv.URL+"/api/agent/start", models.StartAgentRequest{SessionID: "sess-1", CallType: "video"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[models.SessionSnapshot](t, resp)
	assert.Equal(t, models.StatusJoiningCall, snap.Status)
	assert.Equal(t, models.PhaseSetup, snap.Phase)
	assert.Equal(t, "video", snap.CallType)
	assert.Equal(t, "default", snap.CallID)

	resp = get(t, srv.URL+"/api/agent/status?session_id=sess-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PhaseSetup, decode[models.SessionSnapshot](t, resp).Phase)

	resp = postJSON(t, srv.URL+"/api/agent/stop", models.StopAgentRequest{SessionID: "sess-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[models.SessionSnapshot](t, resp)
	assert.Equal(t, models.StatusStopped, snap.Status)
	assert.True(t, snap.HasReport)
}

func TestAPI_SessionErrors(t *testing.T) {
	reg := newRegistry(t, nil)
	srv := newAPI(t, &API{Sessions: reg})

	resp := postJSON(t, srv.URL+"/api/agent/start", models.StartAgentRequest{SessionID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/agent/stop", models.StopAgentRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/agent/status")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/agent/status?session_id=missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	r, err := http.Post(srv.URL+"/api/agent/start", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestAPI_MethodsAndCORS(t *testing.T) {
	reg := newRegistry(t, nil)
	srv := newAPI(t, &API{Sessions: reg, Origins: "http://localhost:5000"})

	resp := get(t, srv.URL+"/api/agent/start")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "http://localhost:5000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/agent/stop", nil)
	require.NoError(t, err)
	opt, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	opt.Body.Close()
	assert.Equal(t, http.StatusNoContent, opt.StatusCode)
	assert.Contains(t, opt.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestAPI_Assessment(t *testing.T) {
	reg := newRegistry(t, nil)
	openSession(t, reg, "sess-1")
	srv := newAPI(t, &API{Sessions: reg})

	resp := get(t, srv.URL+"/api/agent/assessment?session_id=sess-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ReportFromLiveSession(t *testing.T) {
	reg := newRegistry(t, stubReports{doc: []byte("%PDF-live")})
	openSession(t, reg, "sess-1")
	srv := newAPI(t, &API{Sessions: reg})

	resp := get(t, srv.URL+"/api/agent/report?session_id=sess-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	postJSON(t, srv.URL+"/api/agent/start", models.StartAgentRequest{SessionID: "sess-1"})
	postJSON(t, srv.URL+"/api/agent/stop", models.StopAgentRequest{SessionID: "sess-1"})

	resp = get(t, srv.URL+"/api/agent/report?session_id=sess-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	body := new(bytes.Buffer)
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-live", body.String())

	resp = get(t, srv.URL+"/api/agent/report?session_id=sess-1&format=json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[models.Report](t, resp)
	assert.Equal(t, "sess-1", rep.SessionID)
	assert.Equal(t, models.ReportInsufficientData, rep.Status)
}

func TestAPI_ReportWithoutDocument(t *testing.T) {
	reg := newRegistry(t, nil)
	openSession(t, reg, "sess-1")
	srv := newAPI(t, &API{Sessions: reg})

	postJSON(t, srv.URL+"/api/agent/start", models.StartAgentRequest{SessionID: "sess-1"})
	postJSON(t, srv.URL+"/api/agent/stop", models.StopAgentRequest{SessionID: "sess-1"})

	resp := get(t, srv.URL+"/api/agent/report?session_id=sess-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "document")
}

func TestAPI_ReportFromArchive(t *testing.T) {
	reg := newRegistry(t, nil)
	archive := stubArchive{records: map[string]models.ReportRecord{
		"old": {
			SessionID: "old",
			Report:    models.Report{SessionID: "old", Status: models.ReportComplete, AvgHeartRate: 70},
			Document:  []byte("%PDF-archived"),
		},
	}}
	srv := newAPI(t, &API{Sessions: reg, Archive: archive})

	resp := get(t, srv.URL+"/api/agent/report?session_id=old")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp = get(t, srv.URL+"/api/agent/report?session_id=old&format=json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 70, decode[models.Report](t, resp).AvgHeartRate)

	resp = get(t, srv.URL+"/api/agent/report?session_id=unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	failing := newAPI(t, &API{Sessions: reg, Archive: stubArchive{err: errors.New("db down")}})
	resp = get(t, failing.URL+"/api/agent/report?session_id=old")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_GeneratePDF(t *testing.T) {
	reg := newRegistry(t, nil)
	srv := newAPI(t, &API{Sessions: reg, Renderer: stubRenderer{}})

	resp := postJSON(t, srv.URL+"/api/generate-pdf", models.SessionSummary{DominantMood: "Calm", SessionDuration: "1m 0s"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="health_report.pdf"`, resp.Header.Get("Content-Disposition"))
	body := new(bytes.Buffer)
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF Calm", body.String())

	down := newAPI(t, &API{Sessions: reg, Renderer: stubRenderer{err: services.ErrRendererUnavailable}})
	resp = postJSON(t, down.URL+"/api/generate-pdf", models.SessionSummary{})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	none := newAPI(t, &API{Sessions: reg})
	resp = postJSON(t, none.URL+"/api/generate-pdf", models.SessionSummary{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Contract(t *testing.T) {
	reg := newRegistry(t, nil)
	srv := newAPI(t, &API{Sessions: reg})

	resp := get(t, srv.URL+"/api/agent/contract")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[policy.Contract](t, resp)
	assert.Equal(t, policy.Default().Disclaimer, c.Disclaimer)
	require.NotEmpty(t, c.Phases)
	assert.Equal(t, models.PhaseGreeting, c.Phases[0].Phase)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	reg := newRegistry(t, nil)
	openSession(t, reg, "sess-1")
	metrics := services.NewMetrics()
	metrics.FrameProcessed(0)
	srv := newAPI(t, &API{Sessions: reg, Estimator: stubHealth(true), Metrics: metrics})

	resp := get(t, srv.URL+"/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["estimator"])
	assert.Equal(t, float64(1), health["active_sessions"])

	resp = get(t, srv.URL+"/api/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[map[string]interface{}](t, resp)
	assert.Equal(t, float64(1), m["total_frames"])
	assert.Equal(t, float64(1), m["active_sessions"])
	assert.Contains(t, m, "system_uptime_sec")
}
