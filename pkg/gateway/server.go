package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/fusion"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
)

// Server is the HTTP facade over the tool surface: one POST route per
// tool under /v1/tools, plus health, readiness and metrics endpoints.
type Server struct {
	tools  *Tools
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the facade listening on addr.
func NewServer(addr string, tools *Tools) *Server {
	s := &Server{
		tools:  tools,
		logger: log.WithComponent("gateway"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler assembles the route tree. Exposed separately so tests can
// drive the facade through httptest without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/tools", func(r chi.Router) {
		r.Post("/search_entities", s.handleSearchEntities)
		r.Post("/get_entity_profile", s.handleEntityProfile)
		r.Post("/download_document", s.handleDownloadDocument)
		r.Post("/list_documents", s.handleListDocuments)
		r.Post("/search_announcements", s.handleSearchAnnouncements)
		r.Post("/get_entity_timeline", s.handleEntityTimeline)
		r.Post("/check_financial_health", s.handleFinancialHealth)
		r.Post("/search_associations", s.handleSearchAssociations)
		r.Post("/get_association_details", s.handleAssociationDetails)
		r.Post("/check_certifications", s.handleCertifications)
		r.Post("/export_data", s.handleExportData)
		r.Post("/update_static_data", s.handleUpdateStaticData)
		r.Post("/get_pipeline_status", s.handlePipelineStatus)
	})
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Gateway listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve gateway: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Gateway shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req fusion.SearchRequest
	if !s.decode(w, r, "search_entities", started, &req) {
		return
	}
	resp, err := s.tools.SearchEntities(r.Context(), callerFrom(r), req)
	s.finish(w, "search_entities", started, resp, err)
}

func (s *Server) handleEntityProfile(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req fusion.ProfileRequest
	if !s.decode(w, r, "get_entity_profile", started, &req) {
		return
	}
	resp, err := s.tools.EntityProfile(r.Context(), callerFrom(r), req)
	s.finish(w, "get_entity_profile", started, resp, err)
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req DocumentRequest
	if !s.decode(w, r, "download_document", started, &req) {
		return
	}
	resp, err := s.tools.DownloadDocument(r.Context(), callerFrom(r), req)
	s.finish(w, "download_document", started, resp, err)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req DocumentListRequest
	if !s.decode(w, r, "list_documents", started, &req) {
		return
	}
	resp, err := s.tools.ListDocuments(r.Context(), callerFrom(r), req)
	s.finish(w, "list_documents", started, resp, err)
}

func (s *Server) handleSearchAnnouncements(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req AnnouncementSearchRequest
	if !s.decode(w, r, "search_announcements", started, &req) {
		return
	}
	resp, err := s.tools.SearchAnnouncements(r.Context(), callerFrom(r), req)
	s.finish(w, "search_announcements", started, resp, err)
}

func (s *Server) handleEntityTimeline(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req TimelineRequest
	if !s.decode(w, r, "get_entity_timeline", started, &req) {
		return
	}
	resp, err := s.tools.EntityTimeline(r.Context(), callerFrom(r), req)
	s.finish(w, "get_entity_timeline", started, resp, err)
}

func (s *Server) handleFinancialHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req FinancialHealthRequest
	if !s.decode(w, r, "check_financial_health", started, &req) {
		return
	}
	resp, err := s.tools.FinancialHealth(r.Context(), callerFrom(r), req)
	s.finish(w, "check_financial_health", started, resp, err)
}

func (s *Server) handleSearchAssociations(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req AssociationSearchRequest
	if !s.decode(w, r, "search_associations", started, &req) {
		return
	}
	resp, err := s.tools.SearchAssociations(r.Context(), callerFrom(r), req)
	s.finish(w, "search_associations", started, resp, err)
}

func (s *Server) handleAssociationDetails(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req AssociationDetailsRequest
	if !s.decode(w, r, "get_association_details", started, &req) {
		return
	}
	resp, err := s.tools.AssociationDetails(r.Context(), callerFrom(r), req)
	s.finish(w, "get_association_details", started, resp, err)
}

func (s *Server) handleCertifications(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req CertificationsRequest
	if !s.decode(w, r, "check_certifications", started, &req) {
		return
	}
	resp, err := s.tools.Certifications(r.Context(), callerFrom(r), req)
	s.finish(w, "check_certifications", started, resp, err)
}

func (s *Server) handleExportData(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req ExportRequest
	if !s.decode(w, r, "export_data", started, &req) {
		return
	}
	resp, err := s.tools.ExportData(r.Context(), callerFrom(r), req)
	s.finish(w, "export_data", started, resp, err)
}

func (s *Server) handleUpdateStaticData(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req UpdateRequest
	if !s.decode(w, r, "update_static_data", started, &req) {
		return
	}
	resp, err := s.tools.UpdateStaticData(r.Context(), callerFrom(r), req)
	s.finish(w, "update_static_data", started, resp, err)
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	resp, err := s.tools.PipelineStatus(r.Context())
	s.finish(w, "get_pipeline_status", started, resp, err)
}

// decode reads one JSON request body. An empty body is a zero-value
// request; a malformed one is the caller's error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, tool string, started time.Time, into interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, tool, started, guicherr.New(guicherr.KindValidation, "", "request body is not valid JSON"))
		return false
	}
	return true
}

func (s *Server) finish(w http.ResponseWriter, tool string, started time.Time, resp interface{}, err error) {
	if err != nil {
		s.fail(w, tool, started, err)
		return
	}
	metrics.ToolRequestsTotal.WithLabelValues(tool, "ok").Inc()
	metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, tool string, started time.Time, err error) {
	metrics.ToolRequestsTotal.WithLabelValues(tool, "error").Inc()
	metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())

	if retryAfter := guicherr.RetryAfterOf(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	s.respond(w, statusFor(err), errorBody{Error: errorDetail{
		Kind:    string(guicherr.KindOf(err)),
		Message: err.Error(),
	}})
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps error kinds to transport codes. The tools normalize
// missing records to empty answers, so not_found here covers only
// direct resource misses.
func statusFor(err error) int {
	switch guicherr.KindOf(err) {
	case guicherr.KindValidation:
		return http.StatusBadRequest
	case guicherr.KindPrivacyDenied:
		return http.StatusForbidden
	case guicherr.KindRateLimited:
		return http.StatusTooManyRequests
	case guicherr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// callerFrom identifies the requesting client: the caller header when
// present, the connection peer otherwise. RealIP has already folded
// forwarding headers into RemoteAddr.
func callerFrom(r *http.Request) Caller {
	caller := Caller{ID: r.Header.Get("X-Caller-ID"), IP: r.RemoteAddr}
	if caller.ID == "" {
		caller.ID = "anonymous"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		caller.IP = host
	}
	return caller
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}
