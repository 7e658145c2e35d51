// Package server wires the HTTP surface: submission handling, readback,
// health, and the connectivity probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"leadgate/internal/audit"
	"leadgate/internal/config"
	"leadgate/internal/lead"
	"leadgate/internal/ratelimit"
	"leadgate/internal/sheets"
)

const (
	Project = "leadgate"
	Version = "1.0.0"
)

type Server struct {
	cfg     *config.Config
	store   sheets.Store
	log     *logrus.Logger
	trail   *audit.Trail
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func New(cfg *config.Config, store sheets.Store, log *logrus.Logger, trail *audit.Trail, limiter *ratelimit.Limiter) *Server {
	return &Server{cfg: cfg, store: store, log: log, trail: trail, limiter: limiter, now: time.Now}
}

// Bootstrap verifies the spreadsheet is reachable and seeds the header
// row when the sheet is empty. A failure here is fatal to the caller:
// the service refuses to accept traffic it cannot persist.
func (s *Server) Bootstrap(ctx context.Context) error {
	title, err := s.store.Metadata(ctx, s.cfg.SheetID)
	if err != nil {
		return fmt.Errorf("spreadsheet unreachable: %w", err)
	}
	rows, err := s.store.ReadRange(ctx, s.cfg.SheetID, s.cfg.HeaderRange)
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(rows) == 0 {
		if err := s.store.WriteRange(ctx, s.cfg.SheetID, s.cfg.HeaderRange, [][]string{lead.HeaderRow()}); err != nil {
			return fmt.Errorf("seed header row: %w", err)
		}
		s.log.WithField("range", s.cfg.HeaderRange).Info("seeded header row")
	}
	s.log.WithField("spreadsheet", title).Info("connected to lead sheet")
	return nil
}

// Routes composes the full handler chain: request logging, then CORS,
// then the mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/submit-form", s.handleSubmit)
	mux.HandleFunc("/api/test", s.handleTest)
	mux.HandleFunc("/api/submissions", s.handleSubmissions)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/metrics", promhttp.Handler())
	return s.withRequestLog(s.withCORS(mux))
}

type submitResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ip := clientIP(r)
	if !s.limiter.Allow(r.Context(), ip) {
		mRateLimited.Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests, try again later"})
		return
	}

	var sub lead.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	fields, reason := lead.ValidateAndNormalize(sub, s.now())
	if reason != lead.RejectNone {
		mRejections.WithLabelValues(reason.String()).Inc()
		mSubmissions.WithLabelValues("rejected").Inc()
		if err := s.trail.Append("submission_rejected", map[string]any{"request_id": requestID(r.Context()), "reason": reason.String(), "ip": ip}); err != nil {
			s.log.WithError(err).Warn("audit append failed")
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": reason.Message()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	row := fields.Row(s.now())
	if err := s.store.AppendRows(ctx, s.cfg.SheetID, s.cfg.SheetRange, [][]string{row}); err != nil {
		mSubmissions.WithLabelValues("store_failed").Inc()
		s.log.WithError(err).Error("sheet append failed")
		if aerr := s.trail.Append("submission_store_failed", map[string]any{"request_id": requestID(r.Context()), "email": fields.Email, "error": err.Error()}); aerr != nil {
			s.log.WithError(aerr).Warn("audit append failed")
		}
		body := map[string]any{"error": "Failed to store submission", "details": err.Error()}
		var apiErr *sheets.APIError
		if errors.As(err, &apiErr) {
			body["details"] = apiErr.Message
			body["code"] = apiErr.Code
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	mSubmissions.WithLabelValues("stored").Inc()
	if err := s.trail.Append("submission_stored", map[string]any{"request_id": requestID(r.Context()), "email": fields.Email, "form_type": fields.FormType}); err != nil {
		s.log.WithError(err).Warn("audit append failed")
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success: true,
		Message: "Form submitted successfully",
		Data: map[string]any{
			"name":     fields.Name,
			"email":    fields.Email,
			"phone":    fields.Phone,
			"formType": fields.FormType,
		},
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	title, err := s.store.Metadata(ctx, s.cfg.SheetID)
	if err != nil {
		s.storeError(w, "Failed to connect to sheet", err)
		return
	}
	rows, err := s.store.ReadRange(ctx, s.cfg.SheetID, s.cfg.SheetRange)
	if err != nil {
		s.storeError(w, "Failed to read sheet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Connected to %q", title),
		"data":    rows,
	})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	rows, err := s.store.ReadRange(ctx, s.cfg.SheetID, s.cfg.SheetRange)
	if err != nil {
		s.storeError(w, "Failed to read submissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rows})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"project":   Project,
		"message":   "Lead capture API is running",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project": Project,
		"version": Version,
		"endpoints": map[string]string{
			"POST /api/submit-form": "submit a lead form",
			"GET /api/submissions":  "read all stored rows",
			"GET /api/test":         "sheet connectivity test",
			"GET /health":           "health check",
			"GET /metrics":          "prometheus metrics",
		},
	})
}

// storeError surfaces a collaborator failure verbatim as a 500.
func (s *Server) storeError(w http.ResponseWriter, msg string, err error) {
	s.log.WithError(err).Error(msg)
	body := map[string]any{"error": msg, "details": err.Error()}
	var apiErr *sheets.APIError
	if errors.As(err, &apiErr) {
		body["details"] = apiErr.Message
		body["code"] = apiErr.Code
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
