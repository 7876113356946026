package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/pricing"
	"github.com/fixline/backend/internal/service"
)

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID        string  `json:"task_id"`
		Lat           float64 `json:"lat"`
		Lng           float64 `json:"lng"`
		RequestedDate *string `json:"requested_date,omitempty"`
		RequestedTime *string `json:"requested_time,omitempty"`
		IsEmergency   bool    `json:"is_emergency"`
		Country       string  `json:"country"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	est := pricing.EstimateRequest{
		TaskID:        req.TaskID,
		Lat:           req.Lat,
		Lng:           req.Lng,
		RequestedTime: req.RequestedTime,
		IsEmergency:   req.IsEmergency,
		Country:       req.Country,
	}
	if req.RequestedDate != nil {
		if d, err := parseDateParam(*req.RequestedDate); err == nil {
			est.RequestedDate = &d
		}
	}

	quote, err := s.svc.EstimatePrice(r.Context(), est)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, quote)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var in service.CreateJobInput
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.CreateJob(r.Context(), claimsFrom(r), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusCreated, job)
}

// handleListJobs serves both sides: customers see their active jobs,
// providers see their assigned ones.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	limit, offset := s.pageParams(r)

	if claims != nil && claims.Role == auth.RoleProvider {
		jobs, err := s.svc.ListAssignedJobs(r.Context(), claims, limit, offset)
		if err != nil {
			writeErr(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"jobs": jobs})
		return
	}

	jobs, err := s.svc.ListActiveJobs(r.Context(), claims, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.CancelJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleApproveProvider(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.ApproveProvider(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleRejectProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.RejectProvider(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleRateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stars    int    `json:"stars"`
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	review, err := s.svc.RateJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Stars, req.Feedback)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusCreated, review)
}

// handleJobTrack returns the provider location trail for a job the caller
// may see.
func (s *Server) handleJobTrack(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, err := s.svc.GetJob(r.Context(), claimsFrom(r), jobID); err != nil {
		writeErr(w, err)
		return
	}

	trail, err := s.tracker.Trail(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"job_id": jobID, "trail": trail})
}
