package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/middleware"
)

func tokenInfoServer(t *testing.T, status int, body map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "good-token", r.URL.Query().Get("id_token"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func validInfo() map[string]string {
	return map[string]string{
		"iss":            "accounts.google.com",
		"sub":            "1234567890",
		"aud":            "client-1",
		"email":          "alice@example.com",
		"email_verified": "true",
		"exp":            strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}
}

func newVerifier(url string) *TokenInfoVerifier {
	return NewTokenInfoVerifier(TokenInfoConfig{
		Endpoint: url,
		ClientID: "client-1",
		Client:   httputil.NewServiceClient(httputil.ServiceClientConfig{MaxRetries: -1}),
	})
}

func TestTokenInfoVerifier_Valid(t *testing.T) {
	srv := tokenInfoServer(t, http.StatusOK, validInfo())

	id, err := newVerifier(srv.URL).Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.google.com", id.Issuer)
	assert.Equal(t, "1234567890", id.Subject)
	assert.True(t, id.EmailVerified)
}

func TestTokenInfoVerifier_WrongAudience(t *testing.T) {
	info := validInfo()
	info["aud"] = "someone-else"
	srv := tokenInfoServer(t, http.StatusOK, info)

	_, err := newVerifier(srv.URL).Verify(context.Background(), "good-token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))
}

func TestTokenInfoVerifier_Expired(t *testing.T) {
	info := validInfo()
	info["exp"] = strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	srv := tokenInfoServer(t, http.StatusOK, info)

	_, err := newVerifier(srv.URL).Verify(context.Background(), "good-token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))
}

func TestTokenInfoVerifier_FailsClosed(t *testing.T) {
	rejected := tokenInfoServer(t, http.StatusBadRequest, nil)
	_, err := newVerifier(rejected.URL).Verify(context.Background(), "good-token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))

	down := tokenInfoServer(t, http.StatusServiceUnavailable, nil)
	_, err = newVerifier(down.URL).Verify(context.Background(), "good-token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUpstream))

	unconfigured := NewTokenInfoVerifier(TokenInfoConfig{Endpoint: down.URL})
	_, err = unconfigured.Verify(context.Background(), "good-token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))
}

func TestDeriveAddress(t *testing.T) {
	a, err := DeriveAddress("salt", "https://accounts.google.com", "123")
	require.NoError(t, err)
	b, err := DeriveAddress("salt", "https://accounts.google.com", "123")
	require.NoError(t, err)
	c, err := DeriveAddress("other-salt", "https://accounts.google.com", "123")
	require.NoError(t, err)
	d, err := DeriveAddress("salt", "https://accounts.google.com", "124")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 66)

	_, err = DeriveAddress("salt", "", "123")
	assert.Error(t, err)
}

type stubVerifier struct {
	id  *Identity
	err error
}

func (s stubVerifier) Verify(context.Context, string) (*Identity, error) { return s.id, s.err }

func TestLogin_IssuesSessionReadableByMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	svc := New(Config{
		Verifier:    stubVerifier{id: &Identity{Issuer: "https://accounts.google.com", Subject: "42", EmailVerified: true}},
		Sessions:    NewSessions(secret, time.Hour),
		AddressSalt: "salt",
	})

	res, err := svc.Login(context.Background(), "token")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, 5*time.Second)

	want, err := DeriveAddress("salt", "https://accounts.google.com", "42")
	require.NoError(t, err)
	assert.Equal(t, want, res.Address)

	claims, err := middleware.NewAuthMiddleware(secret, logging.NewNop(), nil).ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Address, claims.Address)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, Issuer, claims.Issuer)

	_, err = middleware.NewAuthMiddleware([]byte("wrong"), logging.NewNop(), nil).ValidateToken(res.Token)
	assert.Error(t, err)
}

func TestLogin_VerifierFailure(t *testing.T) {
	svc := New(Config{
		Verifier: stubVerifier{err: svcerrors.Unauthorized("nope")},
		Sessions: NewSessions([]byte("s"), 0),
	})
	_, err := svc.Login(context.Background(), "token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))

	_, err = New(Config{}).Login(context.Background(), "token")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeUnauthorized))
}
