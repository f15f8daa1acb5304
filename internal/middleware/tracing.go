package middleware

import (
	"net/http"

	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/logging"
)

// TracingMiddleware propagates X-Trace-ID without logging. Used on routes
// mounted outside the logged router, such as /metrics.
type TracingMiddleware struct{}

// NewTracingMiddleware creates a new tracing middleware.
func NewTracingMiddleware() *TracingMiddleware {
	return &TracingMiddleware{}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(httputil.TraceIDHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set(httputil.TraceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}
