package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/middleware"
)

// =============================================================================
// Identity
// =============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		httputil.WriteError(w, r, svcerrors.Unauthorized("identity login is not configured"))
		return
	}
	var body struct {
		IDToken string `json:"idToken"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	res, err := s.identity.Login(r.Context(), body.IDToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		httputil.Unauthorized(w, "")
		return
	}
	resp := map[string]interface{}{
		"address":       claims.Address,
		"emailVerified": claims.EmailVerified,
		"subject":       claims.Subject,
	}
	if claims.ExpiresAt != nil {
		resp["expiresAt"] = claims.ExpiresAt.Time
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Test token
// =============================================================================

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	recipient := body.Recipient
	if recipient == "" {
		recipient = middleware.GetAddress(r.Context())
	}
	res, err := s.relay.Mint(r.Context(), recipient, body.Amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// =============================================================================
// Strategies
// =============================================================================

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.yield.Strategies())
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	rec, err := s.recommend.Recommend(r.Context(), body.Prompt)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// =============================================================================
// Sponsor
// =============================================================================

func (s *Server) handleSponsor(w http.ResponseWriter, r *http.Request) {
	status, err := s.relay.Sponsor(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}
