package log

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	headerRequestID = "X-Request-ID"
	healthPath      = "/health"
)

// requestLogger derives the per-request child logger and the request ID
// echoed back to the client.
func requestLogger(base zerolog.Logger, r *http.Request, ip string) (zerolog.Logger, string) {
	reqID := r.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	child := base.With().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, r.Method).
		Str(FieldPath, r.URL.Path).
		Str(FieldClientIP, ip).
		Logger()
	return child, reqID
}

// completion picks the level of the final request entry. Probes stay at
// debug; server errors surface as warnings.
func completion(l *zerolog.Logger, path string, status int, start time.Time) *zerolog.Event {
	var evt *zerolog.Event
	switch {
	case path == healthPath:
		evt = l.Debug()
	case status >= http.StatusInternalServerError:
		evt = l.Warn()
	default:
		evt = l.Info()
	}
	return evt.
		Int(FieldStatus, status).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds()))
}

// clientIP extracts the client IP from X-Forwarded-For, X-Real-IP, or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
