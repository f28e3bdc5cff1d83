package keyquota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nhalm/keyquota/quota"
)

func meteredHandler(t *testing.T, limit int64, period string, opts ...QuotaOption) (http.Handler, *quota.Client) {
	t.Helper()
	qc := newClient(t)
	ctx := context.Background()
	if _, err := qc.Plans.Create(ctx, quota.PlanParams{ID: "plan", Limit: limit, Period: period}); err != nil {
		t.Fatal(err)
	}
	if _, err := qc.Keys.Create(ctx, quota.KeyParams{Value: "k1", Plan: "plan"}); err != nil {
		t.Fatal(err)
	}
	if _, err := qc.Keys.Create(ctx, quota.KeyParams{Value: "unbound"}); err != nil {
		t.Fatal(err)
	}

	h := Handler()(APIKey(RegistryValidator(qc.Keys))(Quota(qc.Usage, opts...)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		usage, ok := UsageFromContext(r.Context())
		if !ok {
			t.Error("expected usage in context")
			return
		}
		SetResponse(r, http.StatusOK, usage)
	}))))
	return h, qc
}

func doKey(h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/verify", http.NoBody)
	req.Header.Set(DefaultAPIKeyHeader, key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuota_ChargesUntilExceeded(t *testing.T) {
	h, qc := meteredHandler(t, 2, "1h")

	for i, want := range []int64{1, 0} {
		rec := doKey(h, "k1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if got := rec.Header().Get("RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: expected RateLimit-Limit 2, got %q", i, got)
		}
		if got := rec.Header().Get("RateLimit-Remaining"); got != strconv.FormatInt(want, 10) {
			t.Errorf("request %d: expected RateLimit-Remaining %d, got %q", i, want, got)
		}
		if rec.Header().Get("Retry-After") != "" {
			t.Errorf("request %d: unexpected Retry-After", i)
		}
	}

	rec := doKey(h, "k1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 3600 {
		t.Errorf("expected Retry-After within the window, got %q", rec.Header().Get("Retry-After"))
	}
	if reset, _ := strconv.ParseInt(rec.Header().Get("RateLimit-Reset"), 10, 64); reset <= time.Now().Unix() {
		t.Errorf("expected RateLimit-Reset in the future, got %d", reset)
	}
	if apiErr := decodeError(t, rec); apiErr.Code != "quota_exceeded" {
		t.Errorf("expected quota_exceeded, got %s", apiErr.Code)
	}

	usage, err := qc.Usage.Get(context.Background(), "k1")
	if err != nil {
		t.Fatal(err)
	}
	if usage.Remaining != 0 {
		t.Errorf("expected the window to stay full, got remaining %d", usage.Remaining)
	}
}

func TestQuota_Cost(t *testing.T) {
	h, _ := meteredHandler(t, 10, "1h", WithCost(func(r *http.Request) int64 {
		n, _ := strconv.ParseInt(r.URL.Query().Get("n"), 10, 64)
		return n
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/verify?n=4", http.NoBody)
	req.Header.Set(DefaultAPIKeyHeader, "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("RateLimit-Remaining"); got != "6" {
		t.Errorf("expected 6 remaining after charging 4, got %q", got)
	}

	rec = doKey(h, "k1")
	if got := rec.Header().Get("RateLimit-Remaining"); got != "6" {
		t.Errorf("expected zero cost to read without charging, got %q", got)
	}
}

func TestQuota_HeaderModes(t *testing.T) {
	h, _ := meteredHandler(t, 1, "1h", WithHeaderMode(HeadersOnExceeded))
	if rec := doKey(h, "k1"); rec.Header().Get("RateLimit-Limit") != "" {
		t.Error("expected no headers before the quota is exceeded")
	}
	if rec := doKey(h, "k1"); rec.Header().Get("RateLimit-Limit") != "1" || rec.Header().Get("Retry-After") == "" {
		t.Error("expected headers on 429")
	}

	h, _ = meteredHandler(t, 1, "1h", WithHeaderMode(HeadersNever))
	doKey(h, "k1")
	rec := doKey(h, "k1")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("RateLimit-Limit") != "" || rec.Header().Get("Retry-After") != "" {
		t.Error("expected no quota headers")
	}
}

func TestQuota_UnboundKey(t *testing.T) {
	h, _ := meteredHandler(t, 1, "1h")
	rec := doKey(h, "unbound")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a key without plan, got %d", rec.Code)
	}
}

func TestQuota_WithoutAPIKey(t *testing.T) {
	qc := newClient(t)
	var reached bool
	h := Quota(qc.Usage)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !reached {
		t.Error("expected unauthenticated requests to pass through")
	}
}
