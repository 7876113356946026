// Package api is the REST boundary: routing, authentication, error mapping,
// and JSON plumbing over the service layer.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/metrics"
	"github.com/fixline/backend/internal/realtime"
	"github.com/fixline/backend/internal/service"
)

// Pagination bounds list endpoints.
type Pagination struct {
	DefaultSize int
	MaxSize     int
}

// Server holds the handler dependencies.
type Server struct {
	svc      *service.Service
	verifier *auth.Verifier
	tracker  *realtime.LocationTracker
	metrics  *metrics.Metrics
	pages    Pagination
	origins  []string
	log      *slog.Logger
}

func NewServer(svc *service.Service, verifier *auth.Verifier, tracker *realtime.LocationTracker, m *metrics.Metrics, pages Pagination, origins []string, log *slog.Logger) *Server {
	if pages.DefaultSize <= 0 {
		pages.DefaultSize = 20
	}
	if pages.MaxSize <= 0 {
		pages.MaxSize = 100
	}
	return &Server{
		svc:      svc,
		verifier: verifier,
		tracker:  tracker,
		metrics:  m,
		pages:    pages,
		origins:  origins,
		log:      log,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.metricsMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	// pricing
	v1.HandleFunc("/estimates", s.handleEstimate).Methods(http.MethodPost)

	// customer job lifecycle
	v1.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/approve", s.handleApproveProvider).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/reject", s.handleRejectProvider).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/rating", s.handleRateJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/track", s.handleJobTrack).Methods(http.MethodGet)

	// provider field flow
	v1.HandleFunc("/provider/status", s.handleSetOnline).Methods(http.MethodPost)
	v1.HandleFunc("/provider/offers", s.handleListOffers).Methods(http.MethodGet)
	v1.HandleFunc("/provider/credentials", s.handleUploadCredential).Methods(http.MethodPost)
	v1.HandleFunc("/offers/{id}/accept", s.handleAcceptOffer).Methods(http.MethodPost)
	v1.HandleFunc("/offers/{id}/decline", s.handleDeclineOffer).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/en-route", s.handleMarkEnRoute).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/arrived", s.handleMarkArrived).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/start", s.handleStartWork).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/complete", s.handleCompleteJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/provider-cancel", s.handleProviderCancel).Methods(http.MethodPost)

	// admin
	v1.HandleFunc("/admin/credentials/{id}/review", s.handleReviewCredential).Methods(http.MethodPost)
	v1.HandleFunc("/admin/providers/{id}/score", s.handleAdjustScore).Methods(http.MethodPost)
	v1.HandleFunc("/admin/jobs/{id}/reassign", s.handleReassignJob).Methods(http.MethodPost)
	v1.HandleFunc("/admin/jobs/{id}/cancel", s.handleAdminCancel).Methods(http.MethodPost)
	v1.HandleFunc("/admin/jobs/{id}/refund", s.handleRefundJob).Methods(http.MethodPost)
	v1.HandleFunc("/admin/jobs/{id}/no-show", s.handleMarkNoShow).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// claims context plumbing

type ctxKey int

const claimsKey ctxKey = 0

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeErr(w, errs.E(errs.KindUnauthorized, "api.auth", "missing bearer token"))
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// statusRecorder captures the response code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveHTTP(route, r.Method, strconv.Itoa(rec.status), time.Since(start))
	})
}

// JSON plumbing

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.E(errs.KindValidationFailed, "api.decode", "invalid request body: %v", err)
	}
	return nil
}

// httpStatus maps the error taxonomy onto status codes.
func httpStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindOfferNotFound:
		return http.StatusNotFound
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindValidationFailed:
		return http.StatusBadRequest
	case errs.KindInvalidTransition, errs.KindConflictingState, errs.KindOfferAlreadyResponded:
		return http.StatusConflict
	case errs.KindPricingUnavailable:
		return http.StatusUnprocessableEntity
	case errs.KindExternalTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	respond(w, httpStatus(err), map[string]any{
		"error": err.Error(),
		"kind":  string(errs.KindOf(err)),
	})
}

func parseDateParam(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// pageParams clamps limit/offset query parameters.
func (s *Server) pageParams(r *http.Request) (limit, offset int) {
	limit = s.pages.DefaultSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > s.pages.MaxSize {
		limit = s.pages.MaxSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
