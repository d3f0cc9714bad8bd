// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/health"
	"github.com/openbookings/calsync/internal/version"
)

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleHealthStatus reports the current health state of one resource. A
// resource that was never checked has no state yet and reports 404.
func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	resourceType := domain.ResourceType(chi.URLParam(r, "type"))
	resourceID := chi.URLParam(r, "id")

	state, ok := s.orchestrator.HealthStatus(r.Context(), resourceType, resourceID)
	if !ok {
		writeNotFound(w)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ResourceType domain.ResourceType `json:"resource_type"`
		ResourceID   string              `json:"resource_id"`
		State        health.State        `json:"state"`
	}{resourceType, resourceID, state})
}

func (s *Server) handleOwnerReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.orchestrator.OwnerReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleAvailability serves busy windows for one owner. Concurrent
// identical queries share a single upstream fan-out.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "id")

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeBadRequest(w, "from must be an RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeBadRequest(w, "to must be an RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeBadRequest(w, "to must be after from")
		return
	}

	slots, err := s.availability.Busy(r.Context(), ownerID, from, to)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	if slots == nil {
		slots = []domain.BusySlot{}
	}

	writeJSON(w, http.StatusOK, struct {
		OwnerID string            `json:"owner_id"`
		From    time.Time         `json:"from"`
		To      time.Time         `json:"to"`
		Busy    []domain.BusySlot `json:"busy"`
	}{ownerID, from, to, slots})
}

// handleRunChecks triggers an immediate scheduling pass. Fire and forget:
// the pass runs in the background and the endpoint returns 202.
func (s *Server) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.CheckAll(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
