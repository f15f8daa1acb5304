package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/internal/sponsor"
	"github.com/R3E-Network/savings_layer/services/aggregator"
	"github.com/R3E-Network/savings_layer/services/directory"
	"github.com/R3E-Network/savings_layer/services/identity"
	"github.com/R3E-Network/savings_layer/services/relay"
	"github.com/R3E-Network/savings_layer/services/yield"
)

const (
	testPackage = "0xpkg"
	testRoom    = "0xa11"
	testVault   = "0xb22"
	adminKey    = "admin-secret"
)

var jwtSecret = []byte("http-test-secret")

// fakeLedger serves both the relay and the aggregator.
type fakeLedger struct {
	mu        sync.Mutex
	objects   map[string]*chain.Object
	events    map[chain.EventKind][]chain.RawEvent
	execCalls [][]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		objects: make(map[string]*chain.Object),
		events:  make(map[chain.EventKind][]chain.RawEvent),
	}
}

func (f *fakeLedger) ExecuteTransaction(_ context.Context, _ string, signatures []string) (*chain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, signatures)
	return &chain.ExecutionResult{
		Digest:  fmt.Sprintf("Dg%d", len(f.execCalls)),
		Status:  chain.StatusSuccess,
		Created: []chain.ObjectRef{{ObjectID: testVault}, {ObjectID: testRoom}},
		ObjectChanges: []chain.ObjectChange{
			{Type: "created", ObjectType: testPackage + "::savings::Vault<0xpkg::usdc::USDC>", ObjectID: testVault},
			{Type: "created", ObjectType: testPackage + "::savings::Room", ObjectID: testRoom},
		},
	}, nil
}

func (f *fakeLedger) MoveCall(_ context.Context, req chain.MoveCallRequest) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(req.Function)), nil
}

func (f *fakeLedger) GetObject(_ context.Context, id string) (*chain.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, chain.ErrObjectNotFound
	}
	return obj, nil
}

func (f *fakeLedger) MultiGetObjects(_ context.Context, ids []string) ([]*chain.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*chain.Object, len(ids))
	for i, id := range ids {
		out[i] = f.objects[id]
	}
	return out, nil
}

func (f *fakeLedger) GetTransaction(context.Context, string) (*chain.ExecutionResult, error) {
	return nil, &chain.RPCError{Code: -32602, Message: "not found"}
}

func (f *fakeLedger) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(3_000_000_000), nil
}

func (f *fakeLedger) QueryAllEvents(_ context.Context, eventType string, _ int) ([]chain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[chain.KindOf(eventType)], nil
}

func (f *fakeLedger) setObject(id, fields string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = &chain.Object{ID: id, Fields: gjson.Parse(fields)}
}

func (f *fakeLedger) deposit(digest, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[chain.KindDepositMade] = append(f.events[chain.KindDepositMade], chain.RawEvent{
		ID:   chain.EventID{TxDigest: digest, EventSeq: "0"},
		Type: chain.EventType(testPackage, aggregator.DefaultModule, chain.KindDepositMade),
		ParsedJSON: gjson.Parse(fmt.Sprintf(
			`{"room_id":%q,"player":"0xcafe","amount":%q,"period":"1","timestamp":"1700000000000"}`,
			testRoom, amount)),
	})
}

type testServer struct {
	handler   http.Handler
	ledger    *fakeLedger
	directory *directory.MemoryStore
	relay     *relay.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	seed := bytes.Repeat([]byte{7}, 32)
	sp, err := sponsor.FromSeed(seed)
	require.NoError(t, err)

	ledger := newFakeLedger()
	store := directory.NewMemoryStore()
	m := metrics.New()

	rel, err := relay.New(relay.Config{
		Ledger:        ledger,
		Sponsor:       sp,
		Directory:     store,
		Metrics:       m,
		PackageID:     testPackage,
		AdminCapID:    "0xcap",
		TreasuryCapID: "0xtreasury",
		MintMaxAmount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rel.Close(context.Background()) })

	srv, err := New(Config{
		Relay:      rel,
		Aggregator: aggregator.New(aggregator.Config{Ledger: ledger, PackageID: testPackage, Metrics: m}),
		Directory:  store,
		Yield:      yield.NewEngine(yield.Config{}),
		Ledger:     ledger,
		Auth:       middleware.NewAuthMiddleware(jwtSecret, logging.NewNop(), nil),
		AdminKey:   adminKey,
		Metrics:    m,
	})
	require.NoError(t, err)

	return &testServer{handler: srv.Handler(), ledger: ledger, directory: store, relay: rel}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createBody(private bool) map[string]interface{} {
	return map[string]interface{}{
		"totalPeriods":   4,
		"depositAmount":  1_000_000,
		"strategyId":     1,
		"startTimeMs":    time.Now().Add(time.Minute).UnixMilli(),
		"periodLengthMs": 604_800_000,
		"isPrivate":      private,
	}
}

// =============================================================================
// Rooms
// =============================================================================

func TestCreateThenGetRoom_NoDepositsYet(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/room/create", createBody(false), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, true, created["success"])
	assert.Equal(t, testRoom, created["roomId"])
	assert.Equal(t, testVault, created["vaultId"])
	assert.NotContains(t, created, "password")

	ts.ledger.setObject(testRoom, `{"total_periods":"4","current_period":"0","vault_id":"0xb22"}`)
	ts.ledger.setObject(testVault, `{"principal":"0","reward":"0"}`)

	rec = ts.do(t, http.MethodGet, "/room/"+testRoom, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	room := decode(t, rec)["room"].(map[string]interface{})
	assert.Equal(t, 0.0, room["totalDeposit"])
	assert.Equal(t, 0.0, room["rewardPool"])
	assert.Equal(t, testVault, room["vaultId"])
	assert.Equal(t, "0", room["current_period"])
	assert.Equal(t, "1000000", room["depositAmount"])
	assert.NotContains(t, room, "passwordHash")
}

func TestGetRoom_TotalsDeposits(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.setObject(testRoom, `{"vault_id":"0xb22"}`)
	ts.ledger.setObject(testVault, `{"principal":"750000","reward":"2500000"}`)
	ts.ledger.deposit("D1", "500000")
	ts.ledger.deposit("D2", "250000")

	rec := ts.do(t, http.MethodGet, "/room/"+testRoom, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	room := decode(t, rec)["room"].(map[string]interface{})
	assert.InDelta(t, 0.75, room["totalDeposit"], 1e-9)
	assert.InDelta(t, 2.5, room["rewardPool"], 1e-9)
}

func TestGetRoom_NotFoundAndInvalid(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/room/0xdead", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/room/not-an-id", nil, nil).Code)
}

func TestCreateRoom_ValidationIs400(t *testing.T) {
	ts := newTestServer(t)
	body := createBody(false)
	body["totalPeriods"] = 0

	rec := ts.do(t, http.MethodPost, "/room/create", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindByPassword(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/room/create", createBody(true), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	password, _ := decode(t, rec)["password"].(string)
	require.NotEmpty(t, password)

	rec = ts.do(t, http.MethodPost, "/room/find-by-password", map[string]string{"password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"roomId": testRoom, "vaultId": testVault}, decode(t, rec))

	rec = ts.do(t, http.MethodPost, "/room/find-by-password", map[string]string{"password": password + "x"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoin_SignatureListUsedVerbatim(t *testing.T) {
	ts := newTestServer(t)
	list := `["sigA","sigB"]`

	rec := ts.do(t, http.MethodPost, "/room/join", map[string]string{
		"txBytes":       base64.StdEncoding.EncodeToString([]byte("join-tx")),
		"userSignature": list,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, ts.ledger.execCalls, 1)
	assert.Equal(t, []string{"sigA", "sigB"}, ts.ledger.execCalls[0])
}

func TestJoin_MissingSignatureIs400(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/room/join", map[string]string{"txBytes": "AAAA"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.ledger.execCalls)
}

func TestListRoomsAndCreated(t *testing.T) {
	ts := newTestServer(t)
	body := createBody(false)
	body["creator"] = "0xc0ffee"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/room/create", body, nil).Code)

	rooms := decode(t, ts.do(t, http.MethodGet, "/rooms", nil, nil))["rooms"].([]interface{})
	require.Len(t, rooms, 1)

	created := decode(t, ts.do(t, http.MethodGet, "/room/user/0xC0FFEE/created", nil, nil))["rooms"].([]interface{})
	require.Len(t, created, 1)
	assert.Equal(t, testRoom, created[0].(map[string]interface{})["roomId"])
}

// =============================================================================
// Administrative routes
// =============================================================================

func TestAdminRoutesRequireKey(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"roomId": testRoom}

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/room/start", body, nil).Code)

	rec := ts.do(t, http.MethodPost, "/room/start", body, map[string]string{middleware.AdminKeyHeader: adminKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["success"])
}

func TestWipeRooms(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/room/create", createBody(false), nil).Code)

	rec := ts.do(t, http.MethodDelete, "/admin/rooms", nil, map[string]string{middleware.AdminKeyHeader: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["removed"])

	n, err := ts.directory.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// Mint, strategies, identity
// =============================================================================

func TestMint_AboveMaximumIs400(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/usdc/mint", map[string]interface{}{"recipient": "0xcafe", "amount": 1001}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.ledger.execCalls)

	rec = ts.do(t, http.MethodPost, "/usdc/mint", map[string]interface{}{"recipient": "0xcafe", "amount": 10}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/usdc/mint", map[string]interface{}{"recipient": "0xcafe", "amount": 10}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestStrategiesAndRecommend(t *testing.T) {
	ts := newTestServer(t)

	table := decode(t, ts.do(t, http.MethodGet, "/strategies", nil, nil))
	assert.Len(t, table["strategies"], 3)

	rec := ts.do(t, http.MethodPost, "/strategy/recommend", map[string]string{"prompt": "safe and stable please"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, 0.0, out["strategyId"])
	assert.Equal(t, "fallback", out["source"])
}

func TestAuthMe(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/auth/me", nil, nil).Code)

	token, _, err := identity.NewSessions(jwtSecret, time.Hour).Issue(
		&identity.Identity{Issuer: "https://accounts.google.com", Subject: "7"}, "0xfeed")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xfeed", decode(t, rec)["address"])

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/auth/login", map[string]string{"idToken": "x"}, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	assert.Equal(t, 0, int(decode(t, rec)["rooms"].(float64)))

	require.NoError(t, ts.directory.Upsert(context.Background(), &directory.Room{
		RoomID:         "0xr1",
		VaultID:        "0xv1",
		TotalPeriods:   2,
		DepositAmount:  decimal.NewFromInt(1),
		PeriodLengthMs: 1000,
	}))
	rec = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, 1, int(decode(t, rec)["rooms"].(float64)))

	rec = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "savings_layer_http_requests_total"))
}

type countFailingStore struct {
	*directory.MemoryStore
}

func (countFailingStore) Count(context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

func TestHealth_DirectoryUnavailable(t *testing.T) {
	ts := newTestServer(t)
	srv, err := New(Config{
		Relay:      ts.relay,
		Aggregator: aggregator.New(aggregator.Config{Ledger: ts.ledger, PackageID: testPackage}),
		Directory:  countFailingStore{ts.directory},
		Yield:      yield.NewEngine(yield.Config{}),
		Ledger:     ts.ledger,
		Auth:       middleware.NewAuthMiddleware(jwtSecret, logging.NewNop(), nil),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}
