package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/keyquota"
	"github.com/nhalm/keyquota/quota"
)

type incrementRequest struct {
	Quantity *int64 `json:"quantity"`
}

type incrementQuery struct {
	// Wait holds the response until the stats write has finished.
	Wait bool `query:"wait"`
}

type statsQuery struct {
	Since string `query:"since" validate:"omitempty,datetime=2006-01-02"`
	Until string `query:"until" validate:"omitempty,datetime=2006-01-02"`
}

type statsResponse struct {
	Key  string             `json:"key"`
	Data []quota.StatsEntry `json:"data"`
}

type verifyResponse struct {
	Key   string             `json:"key"`
	Plan  string             `json:"plan"`
	Usage *quota.UsageResult `json:"usage"`
}

func (s *server) getUsage(_ http.ResponseWriter, r *http.Request) {
	usage, err := s.qc.Usage.Get(r.Context(), chi.URLParam(r, "value"))
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, usage)
}

func (s *server) incrementUsage(_ http.ResponseWriter, r *http.Request) {
	var q incrementQuery
	if !keyquota.DecodeQuery(r, &q) {
		return
	}
	var req incrementRequest
	if !keyquota.DecodeJSON(r, &req) {
		return
	}

	var opts []quota.IncrementOption
	if req.Quantity != nil {
		opts = append(opts, quota.WithQuantity(*req.Quantity))
	}

	usage, err := s.qc.Usage.Increment(r.Context(), chi.URLParam(r, "value"), opts...)
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	if q.Wait {
		if err := usage.Pending.Wait(r.Context()); err != nil {
			keyquota.Fail(r, err)
			return
		}
	}
	keyquota.SetResponse(r, http.StatusOK, usage)
}

func (s *server) getStats(_ http.ResponseWriter, r *http.Request) {
	var q statsQuery
	if !keyquota.DecodeQuery(r, &q) {
		return
	}

	var opts []quota.QueryOption
	if q.Since != "" {
		since, _ := time.ParseInLocation(quota.DateLayout, q.Since, s.qc.Stats.Location())
		opts = append(opts, quota.Since(since))
	}
	if q.Until != "" {
		until, _ := time.ParseInLocation(quota.DateLayout, q.Until, s.qc.Stats.Location())
		opts = append(opts, quota.Until(until))
	}

	value := chi.URLParam(r, "value")
	entries, err := s.qc.Stats.Query(r.Context(), value, opts...)
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, statsResponse{Key: value, Data: entries})
}

func (s *server) verify(_ http.ResponseWriter, r *http.Request) {
	key, _ := keyquota.KeyFromContext(r.Context())
	usage, _ := keyquota.UsageFromContext(r.Context())
	keyquota.SetResponse(r, http.StatusOK, verifyResponse{Key: key.Value, Plan: key.Plan, Usage: usage})
}
