package log

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPMiddleware wraps plain net/http handlers (the gorilla/mux side of
// the server). A WebSocket upgrade is logged once when the handshake
// completes; the connection itself outlives the request.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			child, reqID := requestLogger(logger, r, clientIP(r))

			w.Header().Set(headerRequestID, reqID)
			r = r.WithContext(WithLogger(r.Context(), child))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.hijacked {
				child.Info().Float64(FieldLatency, float64(time.Since(start).Milliseconds())).Msg("connection upgraded")
				return
			}
			completion(&child, r.URL.Path, rec.status, start).Msg("request completed")
		})
	}
}

// statusRecorder captures the status code and keeps the optional
// interfaces the upgrader and streaming writers rely on.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
