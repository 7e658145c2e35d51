package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadgate/internal/config"
)

// withCORS applies the configured origin policy. Strict mode rejects
// browsers from outside the allowlist; permissive mode serves any
// origin but logs a warning for unexpected ones. The upstream site had
// a permissive variant that warned and allowed anyway; here that is a
// deliberate, configured behavior rather than dead enforcement.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin == "" || s.originAllowed(origin)

		if s.cfg.CORSMode == config.CORSStrict && !allowed {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
			return
		}
		if !allowed {
			s.log.WithField("origin", origin).Warn("request from origin outside allowlist")
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// requestID returns the ID minted by withRequestLog, empty outside the
// middleware chain.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		reqID := uuid.New().String()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		mRequestDuration.WithLabelValues(routeLabel(r.URL.Path)).Observe(elapsed.Seconds())
		s.log.WithFields(map[string]any{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"ip":         clientIP(r),
			"duration":   elapsed.String(),
		}).Info("request")
	})
}

// clientIP prefers X-Forwarded-For since the service sits behind a
// reverse proxy in production.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
