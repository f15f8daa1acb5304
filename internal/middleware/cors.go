package middleware

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/savings_layer/internal/httputil"
)

// Headers the web client may send and read. The admin key travels on
// administrative routes only, but preflights for them carry it too.
var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", httputil.TraceIDHeader, AdminKeyHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{httputil.TraceIDHeader, "Retry-After"}, ", ")
)

const corsMaxAge = "3600"

// CORSMiddleware lets the configured room client origins call the gateway.
type CORSMiddleware struct {
	origins  map[string]bool
	allowAll bool
}

// NewCORSMiddleware builds the middleware. "*" allows every origin; trailing
// slashes on configured origins are ignored.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	m := &CORSMiddleware{origins: make(map[string]bool, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			m.allowAll = true
		default:
			m.origins[origin] = true
		}
	}
	return m
}

// Handler answers preflight requests itself and decorates every other
// response from an allowed origin. A preflight from an unknown origin is
// refused with 403.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && m.allows(origin)
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}

		if !preflight {
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			httputil.Forbidden(w, "origin not allowed")
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *CORSMiddleware) allows(origin string) bool {
	return m.allowAll || m.origins[origin]
}
