package identity

import (
	"context"
	"time"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/logging"
)

// Service exchanges identity tokens for sessions.
type Service struct {
	verifier Verifier
	sessions *Sessions
	salt     string
	logger   *logging.Logger
}

// Config configures the identity service.
type Config struct {
	Verifier    Verifier
	Sessions    *Sessions
	AddressSalt string
	Logger      *logging.Logger
}

// New creates an identity service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{verifier: cfg.Verifier, sessions: cfg.Sessions, salt: cfg.AddressSalt, logger: logger}
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login verifies idToken and issues a session for the derived address.
func (s *Service) Login(ctx context.Context, idToken string) (*LoginResult, error) {
	if s.verifier == nil || s.sessions == nil {
		return nil, svcerrors.Unauthorized("identity login is not configured")
	}

	id, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		s.logger.Warn(ctx, "identity verification failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	address, err := DeriveAddress(s.salt, id.Issuer, id.Subject)
	if err != nil {
		return nil, svcerrors.Internal("derive address", err)
	}
	token, expires, err := s.sessions.Issue(id, address)
	if err != nil {
		return nil, svcerrors.Internal("issue session", err)
	}

	s.logger.Info(logging.WithAddress(ctx, address), "session issued", map[string]interface{}{
		"issuer": id.Issuer,
	})
	return &LoginResult{Token: token, Address: address, Email: id.Email, ExpiresAt: expires}, nil
}
