package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/quota"
	"github.com/nhalm/keyquota/store"
)

const adminToken = "admin-secret"

type testServer struct {
	*httptest.Server
	qc *quota.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	qc := quota.New(metrics.InstrumentStore(st, m), quota.WithMetrics(m))

	srv := httptest.NewServer(NewRouter(Config{
		Client:     qc,
		AdminToken: adminToken,
		Metrics:    m,
		Gatherer:   reg,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, qc: qc}
}

func (s *testServer) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestPlansCRUD(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/v1/plans", `{"id":"free","limit":3,"period":"1d","metadata":{"tier":"free","note":""}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "free", body["id"])
	assert.Equal(t, map[string]any{"tier": "free"}, body["metadata"])

	resp, body = s.do(t, http.MethodPost, "/v1/plans", `{"id":"free","limit":3,"period":"1d"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "plan_already_exist", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/v1/plans", `{"id":"bad","limit":0,"period":"1d"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "plan_invalid_limit", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/v1/plans", `{"id":"bad","limit":1,"period":"fortnight"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "plan_invalid_period", errorCode(body))

	resp, body = s.do(t, http.MethodPatch, "/v1/plans/free", `{"limit":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 10, body["limit"])

	resp, body = s.do(t, http.MethodGet, "/v1/plans", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, _ = s.do(t, http.MethodDelete, "/v1/plans/free", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/v1/plans/free", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "plan_not_exist", errorCode(body))
}

func TestKeysCRUD(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/plans", `{"id":"free","limit":3,"period":"1d"}`)

	resp, body := s.do(t, http.MethodPost, "/v1/keys", `{"plan":"free"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	value, _ := body["value"].(string)
	assert.Len(t, value, 16)
	assert.Equal(t, true, body["enabled"])

	resp, body = s.do(t, http.MethodPost, "/v1/keys", `{"value":"`+value+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "key_already_exist", errorCode(body))

	resp, _ = s.do(t, http.MethodPost, "/v1/keys", `{"plan":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/v1/keys", `{"metadata":{"nested":{"a":1}}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "metadata_invalid", errorCode(body))

	resp, _ = s.do(t, http.MethodDelete, "/v1/plans/free", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "plan is still bound to a key")

	resp, body = s.do(t, http.MethodPatch, "/v1/keys/"+value, `{"enabled":false,"plan":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, false, body["enabled"])
	assert.Nil(t, body["plan"])

	resp, body = s.do(t, http.MethodGet, "/v1/keys", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, _ = s.do(t, http.MethodDelete, "/v1/keys/"+value, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/v1/keys/"+value, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUsageAndStats(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/plans", `{"id":"free","limit":3,"period":"1h"}`)
	s.do(t, http.MethodPost, "/v1/keys", `{"value":"k1","plan":"free"}`)

	resp, body := s.do(t, http.MethodGet, "/v1/usage/k1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 3, body["remaining"])

	resp, body = s.do(t, http.MethodPost, "/v1/usage/k1/increment?wait=true", `{"quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["remaining"])
	assert.Equal(t, false, body["exceeded"])

	resp, body = s.do(t, http.MethodPost, "/v1/usage/k1/increment?wait=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["remaining"])

	resp, body = s.do(t, http.MethodPost, "/v1/usage/k1/increment?wait=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["exceeded"])

	resp, body = s.do(t, http.MethodPost, "/v1/usage/k1/increment", `{"quantity":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_quantity", errorCode(body))

	resp, _ = s.do(t, http.MethodGet, "/v1/usage/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	today := time.Now().UTC().Format(quota.DateLayout)
	resp, body = s.do(t, http.MethodGet, "/v1/stats/k1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, []any{map[string]any{"date": today, "count": float64(4)}}, body["data"])

	resp, body = s.do(t, http.MethodGet, "/v1/stats/k1?until=2000-01-01", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["data"])

	resp, _ = s.do(t, http.MethodGet, "/v1/stats/k1?since=last-week", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerify(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.qc.Plans.Create(ctx, quota.PlanParams{ID: "tiny", Limit: 1, Period: "1h"})
	require.NoError(t, err)
	_, err = s.qc.Keys.Create(ctx, quota.KeyParams{Value: "k1", Plan: "tiny"})
	require.NoError(t, err)

	resp, body := s.do(t, http.MethodGet, "/v1/verify", "", "X-API-Key", "k1")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "k1", body["key"])
	assert.Equal(t, "tiny", body["plan"])
	assert.Equal(t, "0", resp.Header.Get("RateLimit-Remaining"))

	resp, body = s.do(t, http.MethodGet, "/v1/verify", "", "X-API-Key", "k1")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "quota_exceeded", errorCode(body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = s.do(t, http.MethodGet, "/v1/verify", "", "X-API-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/v1/plans", http.NoBody)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/v1/plans", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	h := NewRouter(Config{Client: quota.New(st)})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/plans", http.NoBody)
	req.Header.Set("Authorization", "Bearer anything")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodGet, s.URL+"/metrics", http.NoBody)
	require.NoError(t, err)
	mresp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "keyquota_http_requests_total")
	assert.Contains(t, string(raw), "keyquota_store_operation_duration_seconds")
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/v1/plans", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/v1/plans", `{"id":"x","limit":1,"period":"1d","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/v1/plans/x", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	big := `{"id":"x","limit":1,"period":"1d","metadata":{"blob":"` + strings.Repeat("a", DefaultMaxBodyBytes) + `"}}`
	resp, _ = s.do(t, http.MethodPost, "/v1/plans", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
