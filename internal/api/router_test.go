package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/crm"
	"github.com/moctezuma-dev/zappy-back/internal/health"
	"github.com/moctezuma-dev/zappy-back/internal/indexer"
	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/knowledge"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/reindex"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
)

type fakeHealth struct{ healthy bool }

func (f fakeHealth) IsHealthy() bool { return f.healthy }
func (f fakeHealth) Status() health.Status {
	return health.Status{Healthy: f.healthy, Components: map[string]bool{"store": f.healthy}}
}

type fakeAnalyzer struct{ last analyzer.ManualRequest }

func (f *fakeAnalyzer) TriggerManual(_ context.Context, req analyzer.ManualRequest) (int, error) {
	f.last = req
	if req.Type == "nope" {
		return 0, model.ErrValidation
	}
	return 3, nil
}

type fakeReindexer struct{ target reindex.Target }

func (f *fakeReindexer) Run(_ context.Context, target reindex.Target, opts reindex.Options) (reindex.Result, error) {
	f.target = target
	return reindex.Result{Interactions: opts.Limit}, nil
}

type fakeRealtime struct{ calls int }

func (f *fakeRealtime) Resubscribe()     { f.calls++ }
func (f *fakeRealtime) Subscribed() bool { return f.calls > 0 }

type apiHarness struct {
	server   *httptest.Server
	ms       *memstore.Store
	alerts   *alerts.Engine
	analyzer *fakeAnalyzer
	reindex  *fakeReindexer
	realtime *fakeRealtime
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	log := zerolog.Nop()
	ms := memstore.New()
	ix := indexer.New(ms.Contexts(), nil, 0, log)
	eng := alerts.New(ms.Alerts(), log)
	h := &apiHarness{ms: ms, alerts: eng, analyzer: &fakeAnalyzer{}, reindex: &fakeReindexer{}, realtime: &fakeRealtime{}}
	router := NewRouter(Deps{
		Health:    fakeHealth{healthy: true},
		Ingest:    ingest.New(ms, ix, log),
		Analyzer:  h.analyzer,
		Retrieval: retrieval.New(ms, nil, nil, eng, log),
		Alerts:    eng,
		Knowledge: knowledge.New(ms, ix, nil, log),
		CRM:       crm.New(ms, log),
		Realtime:  h.realtime,
		Reindex:   h.reindex,
		Log:       log,
	})
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"store": true}, body["components"])
}

func TestIngestEmail_CreatesInteraction(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/ingest/email", map[string]any{
		"from":    "Ana Pérez <ana@acme.com>",
		"to":      "ventas@zappy.io",
		"subject": "Cotización",
		"body":    "Necesitamos precio para 50 licencias",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id, _ := body["interactionId"].(string)
	require.NotEmpty(t, id)
	assert.NotEmpty(t, body["contactId"])

	in, err := h.ms.Interactions().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelEmail, in.Channel)
}

func TestIngestEmail_ValidationDetails(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/ingest/email", map[string]any{"subject": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	details, ok := body["details"].([]any)
	require.True(t, ok, "details missing: %v", body)
	assert.NotEmpty(t, details)
}

func TestIngest_InvalidJSON(t *testing.T) {
	h := newAPIHarness(t)
	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/api/ingest/slack", bytes.NewBufferString("{"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotes(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/notes", map[string]any{"text": "Llamar el lunes", "author": "Luis"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "other", body["channel"])

	resp, _ = h.do(t, http.MethodPost, "/api/notes", map[string]any{"author": "Luis"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlerts_ListAndResolve(t *testing.T) {
	h := newAPIHarness(t)
	id, err := h.alerts.Upsert(context.Background(), alerts.Request{
		EntityType: model.EntityWorkItem, EntityID: "wi-1", Severity: model.SeverityHigh, Message: "vencida",
	})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodGet, "/api/alerts?status=open", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = h.do(t, http.MethodPost, "/api/alerts/"+id+"/resolve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = h.do(t, http.MethodGet, "/api/alerts?status=open", nil)
	assert.EqualValues(t, 0, body["count"])

	resp, _ = h.do(t, http.MethodGet, "/api/alerts?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_ModelNotConfigured(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/chat", map[string]any{"question": "hola"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "model not configured", body["message"])
}

func TestSearch_RequiresEmbedder(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/search/query", map[string]any{"query": "precio"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/search/query", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestKnowledge_AddSearchDelete(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/knowledge", map[string]any{
		"title": "Política de descuentos", "content": "Máximo 10% en renovaciones",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["chunks"])
	id := body["data"].([]any)[0].(map[string]any)["id"].(string)

	resp, body = h.do(t, http.MethodPost, "/api/knowledge/search", map[string]any{"query": "renovaciones"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = h.do(t, http.MethodDelete, "/api/knowledge/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/api/knowledge/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeAndAdmin(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/ai/analyze", map[string]any{"type": "work_items", "limit": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["processed"])
	assert.Equal(t, 5, h.analyzer.last.Limit)

	resp, _ = h.do(t, http.MethodPost, "/api/ai/analyze", map[string]any{"type": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/admin/reindex", map[string]any{"limit": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, reindex.TargetAll, h.reindex.target)
	assert.EqualValues(t, 7, body["processed"])

	resp, body = h.do(t, http.MethodPost, "/api/admin/watchers/init", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["subscribed"])
	assert.Equal(t, 1, h.realtime.calls)

	resp, _ = h.do(t, http.MethodGet, "/api/admin/credential", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStorage_NotConfigured(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/storage/process", map[string]any{"path": "a.mp4"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/ingest/media", map[string]any{"mimeType": "audio/mpeg", "base64": "AAA="})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsAndNotFound(t *testing.T) {
	h := newAPIHarness(t)
	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCRM_CompanyOverviewAndTimeline(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	co, err := h.ms.Companies().Create(ctx, &model.Company{Name: "Acme"})
	require.NoError(t, err)
	budget := 1200.0
	_, err = h.ms.Interactions().Create(ctx, &model.Interaction{Channel: "email", Notes: "cotización", Budget: &budget, CompanyID: co.ID})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodGet, "/api/crm/companies/"+co.ID+"/overview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Acme", body["company"].(map[string]any)["name"])
	assert.Len(t, body["interactions"], 1)
	assert.EqualValues(t, 1200, body["pipeline"].(map[string]any)["total_budget"])

	resp, _ = h.do(t, http.MethodGet, "/api/crm/companies/missing/overview", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/crm/companies/"+co.ID+"/overview?workItemsLimit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/crm/timeline?companyId="+co.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = h.do(t, http.MethodGet, "/api/crm/companies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestCRM_ContactOverview(t *testing.T) {
	h := newAPIHarness(t)
	c, err := h.ms.Contacts().Create(context.Background(), &model.Contact{Name: "Ana"})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodGet, "/api/crm/contacts/"+c.ID+"/overview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Ana", body["contact"].(map[string]any)["name"])
	assert.Empty(t, body["work_items"])
}

func TestWorkItems_Create(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/work-items", map[string]any{
		"title": "Enviar propuesta", "dueDate": "2025-05-01", "priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "high", data["priority"])

	stored, err := h.ms.WorkItems().Get(context.Background(), data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Enviar propuesta", stored.Title)

	resp, body = h.do(t, http.MethodGet, "/api/crm/work-items", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = h.do(t, http.MethodPost, "/api/work-items", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/work-items", map[string]any{"title": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContexts_Delete(t *testing.T) {
	h := newAPIHarness(t)
	c, err := h.ms.Contexts().Upsert(context.Background(), &model.AiContext{Type: model.ContextNote, SourceID: "n1", Text: "nota"})
	require.NoError(t, err)

	resp, _ := h.do(t, http.MethodDelete, "/api/ai/contexts/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/api/ai/contexts/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCRM_NotConfigured(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Deps{Log: zerolog.Nop()}))
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + "/api/crm/timeline")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
