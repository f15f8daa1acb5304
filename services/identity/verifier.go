// Package identity verifies OAuth identity tokens, derives a deterministic
// ledger address for each identity and issues session tokens.
package identity

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
)

// DefaultTokenInfoURL is Google's token introspection endpoint.
const DefaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Identity is a verified external identity.
type Identity struct {
	Issuer        string
	Subject       string
	Audience      string
	Email         string
	EmailVerified bool
	ExpiresAt     time.Time
}

// Verifier checks an identity token with its issuer.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

// TokenInfoVerifier validates tokens against an OAuth tokeninfo endpoint.
// Every failure is an authentication failure; there is no fallback.
type TokenInfoVerifier struct {
	client   *httputil.ServiceClient
	endpoint string
	clientID string
	now      func() time.Time
}

// TokenInfoConfig configures a TokenInfoVerifier.
type TokenInfoConfig struct {
	Endpoint string
	ClientID string
	Timeout  time.Duration
	Client   *httputil.ServiceClient
}

// NewTokenInfoVerifier creates a verifier.
func NewTokenInfoVerifier(cfg TokenInfoConfig) *TokenInfoVerifier {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultTokenInfoURL
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = httputil.NewServiceClient(httputil.ServiceClientConfig{Timeout: timeout})
	}
	return &TokenInfoVerifier{client: client, endpoint: endpoint, clientID: cfg.ClientID, now: time.Now}
}

type tokenInfo struct {
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Audience      string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Expiry        string `json:"exp"`
}

// Verify introspects idToken and checks its audience and expiry.
func (v *TokenInfoVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, svcerrors.InvalidField("idToken", "required")
	}
	if v.clientID == "" {
		return nil, svcerrors.Unauthorized("identity login is not configured")
	}

	var info tokenInfo
	err := v.client.GetJSON(ctx, v.endpoint+"?id_token="+url.QueryEscape(idToken), &info)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return nil, svcerrors.Unauthorized("identity token rejected by provider")
		}
		return nil, svcerrors.Upstream("identity provider", err)
	}

	if info.Subject == "" || info.Issuer == "" {
		return nil, svcerrors.Unauthorized("identity token missing subject")
	}
	if info.Audience != v.clientID {
		return nil, svcerrors.Unauthorized("identity token issued for another client")
	}

	id := &Identity{
		Issuer:        normalizeIssuer(info.Issuer),
		Subject:       info.Subject,
		Audience:      info.Audience,
		Email:         info.Email,
		EmailVerified: info.EmailVerified == "true",
	}
	if info.Expiry != "" {
		exp, err := strconv.ParseInt(info.Expiry, 10, 64)
		if err != nil {
			return nil, svcerrors.Unauthorized("identity token has invalid expiry")
		}
		id.ExpiresAt = time.Unix(exp, 0)
		if !v.now().Before(id.ExpiresAt) {
			return nil, svcerrors.Unauthorized("identity token expired")
		}
	}
	return id, nil
}

// normalizeIssuer maps "accounts.google.com" and its https form to one value.
func normalizeIssuer(iss string) string {
	if !strings.Contains(iss, "://") {
		return "https://" + iss
	}
	return iss
}
