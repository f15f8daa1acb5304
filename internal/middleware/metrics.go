// Package middleware provides HTTP middleware for the savings gateway.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
)

// maxTraceIDLen bounds client supplied trace ids before they reach logs.
const maxTraceIDLen = 64

// scrapePath is served without touching the HTTP metrics.
const scrapePath = "/metrics"

// MetricsMiddleware records request count, latency and in-flight gauges. Rooms
// and addresses are collapsed into the route template so label cardinality
// stays fixed.
func MetricsMiddleware(serviceName string, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == scrapePath {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			m.IncrementInFlight()
			defer m.DecrementInFlight()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(serviceName, r.Method, routeLabel(r), strconv.Itoa(rec.status), time.Since(start))
		})
	}
}

// routeLabel returns the matched route template, or the raw path when the
// request did not go through a mux route.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// LoggingMiddleware attaches a trace id to the request context and response,
// then logs the request once the handler returns.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := acceptTraceID(r.Header.Get(httputil.TraceIDHeader))
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set(httputil.TraceIDHeader, traceID)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			logger.LogRequest(ctx, r.Method, routeLabel(r), rec.status, time.Since(start))
		})
	}
}

// acceptTraceID keeps a client trace id only when it is short and made of
// printable ASCII; anything else is replaced with a fresh id.
func acceptTraceID(id string) string {
	if id == "" || len(id) > maxTraceIDLen {
		return logging.NewTraceID()
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return logging.NewTraceID()
		}
	}
	return id
}

// statusRecorder captures the first status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
