package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleReviewCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	cred, err := s.svc.ReviewCredential(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Approve)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, cred)
}

func (s *Server) handleAdjustScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  float64 `json:"delta"`
		Reason string  `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	mut, err := s.svc.AdjustProviderScore(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Delta, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"new_score": mut.NewScore})
}

func (s *Server) handleReassignJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.svc.ReassignJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "reassigned"})
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.AdminCancelJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleRefundJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.RefundJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleMarkNoShow(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.MarkNoShow(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}
