package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/keyquota"
	"github.com/nhalm/keyquota/quota"
)

type createPlanRequest struct {
	ID       string         `json:"id" validate:"max=256"`
	Limit    int64          `json:"limit"`
	Period   string         `json:"period" validate:"max=64"`
	Metadata quota.Metadata `json:"metadata"`
}

type updatePlanRequest struct {
	Limit         *int64         `json:"limit"`
	Period        *string        `json:"period" validate:"omitempty,max=64"`
	Metadata      quota.Metadata `json:"metadata"`
	ClearMetadata bool           `json:"clear_metadata"`
}

func (s *server) createPlan(_ http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if !keyquota.DecodeJSON(r, &req) {
		return
	}

	plan, err := s.qc.Plans.Create(r.Context(), quota.PlanParams{
		ID:       req.ID,
		Limit:    req.Limit,
		Period:   req.Period,
		Metadata: req.Metadata,
	})
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusCreated, plan)
}

func (s *server) listPlans(_ http.ResponseWriter, r *http.Request) {
	plans, err := s.qc.Plans.List(r.Context())
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, listResponse[*quota.Plan]{Data: plans})
}

func (s *server) getPlan(_ http.ResponseWriter, r *http.Request) {
	plan, err := s.qc.Plans.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, plan)
}

func (s *server) updatePlan(_ http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if !keyquota.DecodeJSON(r, &req) {
		return
	}

	plan, err := s.qc.Plans.Update(r.Context(), chi.URLParam(r, "id"), quota.PlanUpdate{
		Limit:         req.Limit,
		Period:        req.Period,
		Metadata:      req.Metadata,
		ClearMetadata: req.ClearMetadata,
	})
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, plan)
}

func (s *server) deletePlan(_ http.ResponseWriter, r *http.Request) {
	if err := s.qc.Plans.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusNoContent, nil)
}
