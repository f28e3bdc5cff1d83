package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/keyquota"
	"github.com/nhalm/keyquota/quota"
)

type createKeyRequest struct {
	Value    string         `json:"value" validate:"max=256"`
	Plan     string         `json:"plan"`
	Enabled  *bool          `json:"enabled"`
	Metadata quota.Metadata `json:"metadata"`
}

type updateKeyRequest struct {
	Enabled       *bool          `json:"enabled"`
	Plan          *string        `json:"plan"`
	Metadata      quota.Metadata `json:"metadata"`
	ClearMetadata bool           `json:"clear_metadata"`
}

func (s *server) createKey(_ http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !keyquota.DecodeJSON(r, &req) {
		return
	}

	key, err := s.qc.Keys.Create(r.Context(), quota.KeyParams{
		Value:    req.Value,
		Plan:     req.Plan,
		Enabled:  req.Enabled,
		Metadata: req.Metadata,
	})
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusCreated, key)
}

func (s *server) listKeys(_ http.ResponseWriter, r *http.Request) {
	keys, err := s.qc.Keys.List(r.Context())
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, listResponse[*quota.Key]{Data: keys})
}

func (s *server) getKey(_ http.ResponseWriter, r *http.Request) {
	key, err := s.qc.Keys.Retrieve(r.Context(), chi.URLParam(r, "value"))
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, key)
}

func (s *server) updateKey(_ http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if !keyquota.DecodeJSON(r, &req) {
		return
	}

	key, err := s.qc.Keys.Update(r.Context(), chi.URLParam(r, "value"), quota.KeyUpdate{
		Enabled:       req.Enabled,
		Plan:          req.Plan,
		Metadata:      req.Metadata,
		ClearMetadata: req.ClearMetadata,
	})
	if err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, key)
}

func (s *server) deleteKey(_ http.ResponseWriter, r *http.Request) {
	if err := s.qc.Keys.Delete(r.Context(), chi.URLParam(r, "value")); err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusNoContent, nil)
}
