package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/preferences"
	"github.com/sweeney/boiler-automation/internal/store"
)

const maxBody = 64 << 10

type errorJSON struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, preferences.ErrValidationFailed),
		errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrStorageUnavailable),
		errors.Is(err, store.ErrConflict):
		code = http.StatusServiceUnavailable
	}
	if code >= 500 {
		s.deps.Log.Warn().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, code, errorJSON{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Preferences.Get(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	patch, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.respondError(w, r, errors.Join(errBadRequest, err))
		return
	}
	p, err := s.deps.Preferences.Update(r.Context(), mux.Vars(r)["user"], patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCoordination(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Coordinator.State(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type overrideRequest struct {
	Reason string `json:"reason"`
}

type decisionJSON struct {
	Transition coordination.Transition `json:"transition"`
	Phase      coordination.Phase      `json:"phase"`
	State      coordination.State      `json:"state"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	reason, err := coordination.ParseReason(req.Reason)
	if err != nil {
		s.respondError(w, r, errors.Join(errBadRequest, err))
		return
	}
	d, err := s.deps.Coordinator.ManualChange(r.Context(), reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetCoordination(d.Next)
	}
	respondJSON(w, http.StatusOK, decisionJSON{Transition: d.Transition, Phase: d.Phase(), State: d.Next})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.Reset(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	st, err := s.deps.Coordinator.State(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetCoordination(st)
	}
	respondJSON(w, http.StatusOK, st)
}

type maintenanceJSON struct {
	Exists    bool    `json:"exists"`
	CanIgnite bool    `json:"canIgnite"`
	Percent   float64 `json:"percentage"`
	Record    any     `json:"record,omitempty"`
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.deps.Maintenance.Record(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := maintenanceJSON{Exists: ok, CanIgnite: !ok || !rec.NeedsCleaning}
	if ok {
		out.Record = rec
		out.Percent = rec.Percentage()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCanIgnite(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"canIgnite": s.deps.Maintenance.CanIgnite(r.Context())})
}

type trackRequest struct {
	Status string `json:"status"`
}

// handleTrack accrues for the posted status, or for the live device status
// when the body is empty.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	if req.Status == "" && s.deps.Tracker != nil {
		req.Status = string(s.deps.Tracker.Device())
	}
	res := s.deps.Maintenance.TrackUsageHours(r.Context(), req.Status)
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetAccrual(res)
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Maintenance.MarkCleaned(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetMaintenance(rec)
	}
	respondJSON(w, http.StatusOK, rec)
}

type targetRequest struct {
	TargetHours float64 `json:"targetHours"`
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.deps.Maintenance.SetTargetHours(r.Context(), req.TargetHours)
	if err != nil {
		if errors.Is(err, maintenance.ErrInvalidTarget) {
			err = errors.Join(errBadRequest, err)
		}
		s.respondError(w, r, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetMaintenance(rec)
	}
	respondJSON(w, http.StatusOK, rec)
}
