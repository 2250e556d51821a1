package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/httputil"
	"recipe-box/internal/logging"
)

const TraceHeader = "X-Trace-ID"

// TracingMiddleware assigns every request a trace ID, attaches a request
// scoped log entry and logs the request once it completes.
type TracingMiddleware struct {
	log *logrus.Logger
}

func NewTracingMiddleware(log *logrus.Logger) *TracingMiddleware {
	return &TracingMiddleware{log: log}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)

		entry := m.log.WithFields(logrus.Fields{
			"trace_id": traceID,
			"method":   r.Method,
			"path":     r.URL.Path,
		})
		ctx := logging.WithTraceID(r.Context(), traceID)
		ctx = logging.WithEntry(ctx, entry)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		entry.WithFields(logrus.Fields{
			"status":      rw.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"bytes":       rw.written,
		}).Info("request completed")
	})
}

// Recover turns a panic into an INTERNAL error response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logging.FromContext(r.Context()).WithFields(logrus.Fields{
					"panic": v,
					"stack": string(debug.Stack()),
				}).Error("handler panicked")
				if !rw.wroteHeader {
					httputil.WriteError(rw, r, apperr.Internal(nil))
				}
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
