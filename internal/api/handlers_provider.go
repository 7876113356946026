package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fixline/backend/internal/domain"
)

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool     `json:"online"`
		Lat    *float64 `json:"lat,omitempty"`
		Lng    *float64 `json:"lng,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.svc.SetOnline(r.Context(), claimsFrom(r), req.Online, req.Lat, req.Lng); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"online": req.Online})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	limit, _ := s.pageParams(r)
	offers, err := s.svc.ListOffers(r.Context(), claimsFrom(r), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"offers": offers})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.svc.AcceptOffer(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"job":        outcome.Job,
		"assignment": outcome.Assignment,
	})
}

func (s *Server) handleDeclineOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.svc.DeclineOffer(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (s *Server) handleMarkEnRoute(w http.ResponseWriter, r *http.Request) {
	// departure coordinates are optional
	var req struct {
		Lat *float64 `json:"lat,omitempty"`
		Lng *float64 `json:"lng,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, err)
			return
		}
	}

	job, err := s.svc.MarkEnRoute(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Lat, req.Lng)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleMarkArrived(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.MarkArrived(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, a)
}

func (s *Server) handleStartWork(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.StartWork(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CompleteJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleProviderCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.svc.CancelAcceptedJob(r.Context(), claimsFrom(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleUploadCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type         string  `json:"type"`
		Name         string  `json:"name"`
		FileRef      string  `json:"file_ref"`
		TaskID       *string `json:"task_id,omitempty"`
		IssuedDate   *string `json:"issued_date,omitempty"`
		ExpiryDate   *string `json:"expiry_date,omitempty"`
		Jurisdiction *string `json:"jurisdiction,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	cred := domain.Credential{
		Type:         domain.CredentialType(req.Type),
		Name:         req.Name,
		FileRef:      req.FileRef,
		TaskID:       req.TaskID,
		Jurisdiction: req.Jurisdiction,
	}
	if req.IssuedDate != nil {
		if d, err := parseDateParam(*req.IssuedDate); err == nil {
			cred.IssuedDate = &d
		}
	}
	if req.ExpiryDate != nil {
		if d, err := parseDateParam(*req.ExpiryDate); err == nil {
			cred.ExpiryDate = &d
		}
	}

	out, err := s.svc.UploadCredential(r.Context(), claimsFrom(r), cred)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusCreated, out)
}
