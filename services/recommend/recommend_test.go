package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
)

func chatServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[0].Content, "Balanced, 8.0% APY")

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRemote(url string) *Service {
	return New(Config{BaseURL: url, APIKey: "key-1", Client: httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: url, BearerToken: "key-1", MaxRetries: -1,
	})})
}

func TestRecommend_Model(t *testing.T) {
	srv := chatServer(t, "```json\n{\"strategyId\": 2, \"rationale\": \"Long horizon.\"}\n```", http.StatusOK)

	rec, err := newRemote(srv.URL).Recommend(context.Background(), "I want maximum growth over ten years")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), rec.StrategyID)
	assert.Equal(t, "Aggressive", rec.StrategyName)
	assert.Equal(t, 0.15, rec.APY)
	assert.Equal(t, "Long horizon.", rec.Rationale)
	assert.Equal(t, SourceModel, rec.Source)
}

func TestRecommend_UnknownStrategyFallsBack(t *testing.T) {
	srv := chatServer(t, `{"strategyId": 9, "rationale": "?"}`, http.StatusOK)

	rec, err := newRemote(srv.URL).Recommend(context.Background(), "keep it safe please")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, uint8(0), rec.StrategyID)
}

func TestRecommend_UpstreamErrorFallsBack(t *testing.T) {
	srv := chatServer(t, "", http.StatusInternalServerError)

	rec, err := newRemote(srv.URL).Recommend(context.Background(), "a balanced, steady mix")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, uint8(1), rec.StrategyID)
}

func TestRecommend_NoKeyUsesFallback(t *testing.T) {
	svc := New(Config{BaseURL: "http://unused"})

	rec, err := svc.Recommend(context.Background(), "aggressive growth, I can take risk")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, uint8(2), rec.StrategyID)
	assert.Equal(t, 0.15, rec.APY)

	none, err := svc.Recommend(context.Background(), "no idea")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), none.StrategyID)
	assert.Contains(t, none.Rationale, "default")
}

func TestRecommend_Validation(t *testing.T) {
	svc := New(Config{})

	_, err := svc.Recommend(context.Background(), "   ")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = svc.Recommend(context.Background(), strings.Repeat("a", maxPromptSize+1))
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestParseReply(t *testing.T) {
	reply, err := parseReply(`Sure! {"strategyId": "1", "rationale": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, "1", reply.StrategyID.String())
	assert.Equal(t, "ok", reply.Rationale)

	_, err = parseReply(`{"rationale": "no id"}`)
	assert.Error(t, err)

	_, err = parseReply("no json here")
	assert.Error(t, err)
}
