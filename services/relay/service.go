// Package relay submits ledger transactions on behalf of users and
// administrators, paying gas from the sponsor account.
//
// Two submission modes exist. Backend-authoritative actions (start, finalize,
// fund reward pool, mint, create room) are built by the node, signed only by
// the sponsor and paid by it. User actions (join, deposit, claim) arrive as
// client-built bytes with the user's signature; the sponsor co-signs unless
// the client already sent a complete signature list.
//
// Submissions are never retried here. A failed fund-moving transaction is
// surfaced to the caller, who decides whether to build a fresh one.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/cooldown"
	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
	"github.com/R3E-Network/savings_layer/internal/sponsor"
	"github.com/R3E-Network/savings_layer/internal/strategy"
	"github.com/R3E-Network/savings_layer/services/directory"
)

// Action names a relayed contract call.
type Action string

const (
	ActionCreateRoom     Action = "create_room"
	ActionJoin           Action = "join_room"
	ActionDeposit        Action = "deposit"
	ActionClaim          Action = "claim"
	ActionStartRoom      Action = "start_room"
	ActionFinalizeRoom   Action = "finalize_room"
	ActionFundRewardPool Action = "fund_reward_pool"
	ActionMint           Action = "mint"
)

// Defaults.
const (
	DefaultModule         = "savings"
	DefaultCoinModule     = "usdc"
	DefaultGasBudget      = 100_000_000
	DefaultAutoStartDelay = 5 * time.Second
	DefaultDiscoveryDelay = 2 * time.Second
	DefaultMintCooldown   = time.Hour

	// ClockObjectID is the shared clock object.
	ClockObjectID = "0x6"
)

// Ledger is the subset of the ledger gateway the relay uses.
type Ledger interface {
	ExecuteTransaction(ctx context.Context, txBytesB64 string, signatures []string) (*chain.ExecutionResult, error)
	MoveCall(ctx context.Context, req chain.MoveCallRequest) (string, error)
	GetObject(ctx context.Context, id string) (*chain.Object, error)
	MultiGetObjects(ctx context.Context, ids []string) ([]*chain.Object, error)
	GetTransaction(ctx context.Context, digest string) (*chain.ExecutionResult, error)
	GetBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error)
}

// =============================================================================
// Service Definition
// =============================================================================

// Service relays transactions and keeps the room directory in step with
// room creation.
type Service struct {
	ledger     Ledger
	sponsor    *sponsor.Sponsor
	directory  directory.Store
	cooldown   cooldown.Limiter
	strategies *strategy.Table
	logger     *logging.Logger
	metrics    *metrics.Metrics

	packageID     string
	module        string
	coinModule    string
	adminCapID    string
	treasuryCapID string
	gasBudget     uint64

	mintMax      decimal.Decimal
	mintCooldown time.Duration

	autoStart      bool
	autoStartDelay time.Duration
	discoveryDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	bgCtx    context.Context
	bgCancel context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// Config holds relay configuration.
type Config struct {
	Ledger     Ledger
	Sponsor    *sponsor.Sponsor
	Directory  directory.Store
	Cooldown   cooldown.Limiter
	Strategies *strategy.Table
	Logger     *logging.Logger
	Metrics    *metrics.Metrics

	PackageID     string
	Module        string
	CoinModule    string
	AdminCapID    string
	TreasuryCapID string
	GasBudget     uint64

	// MintMaxAmount bounds one mint, in display units.
	MintMaxAmount decimal.Decimal
	MintCooldown  time.Duration

	AutoStart      bool
	AutoStartDelay time.Duration
	DiscoveryDelay time.Duration

	Now func() time.Time
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a relay service.
func New(cfg Config) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("relay: ledger is required")
	}
	if cfg.Sponsor == nil {
		return nil, fmt.Errorf("relay: sponsor is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("relay: directory is required")
	}
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("relay: package id is required")
	}

	s := &Service{
		ledger:         cfg.Ledger,
		sponsor:        cfg.Sponsor,
		directory:      cfg.Directory,
		cooldown:       cfg.Cooldown,
		strategies:     cfg.Strategies,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		packageID:      cfg.PackageID,
		module:         cfg.Module,
		coinModule:     cfg.CoinModule,
		adminCapID:     cfg.AdminCapID,
		treasuryCapID:  cfg.TreasuryCapID,
		gasBudget:      cfg.GasBudget,
		mintMax:        cfg.MintMaxAmount,
		mintCooldown:   cfg.MintCooldown,
		autoStart:      cfg.AutoStart,
		autoStartDelay: cfg.AutoStartDelay,
		discoveryDelay: cfg.DiscoveryDelay,
		now:            cfg.Now,
		sleep:          sleepContext,
	}
	if s.cooldown == nil {
		s.cooldown = cooldown.NewMemory()
	}
	if s.strategies == nil {
		s.strategies = strategy.Default()
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.module == "" {
		s.module = DefaultModule
	}
	if s.coinModule == "" {
		s.coinModule = DefaultCoinModule
	}
	if s.gasBudget == 0 {
		s.gasBudget = DefaultGasBudget
	}
	if s.mintCooldown <= 0 {
		s.mintCooldown = DefaultMintCooldown
	}
	if s.autoStartDelay <= 0 {
		s.autoStartDelay = DefaultAutoStartDelay
	}
	if s.discoveryDelay < 0 {
		s.discoveryDelay = 0
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	return s, nil
}

// SponsorAddress returns the fee payer address.
func (s *Service) SponsorAddress() string {
	return s.sponsor.Address()
}

// Close cancels pending background work and waits for it to stop, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay close: %w", ctx.Err())
	}
}

// goBackground runs fn on a context detached from the request but cancelled
// by Close. The trace id of parent is carried over.
func (s *Service) goBackground(parent context.Context, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	ctx := s.bgCtx
	if traceID := logging.GetTraceID(parent); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Submission
// =============================================================================

// Result is the normalized outcome of a relayed transaction.
type Result struct {
	Success bool            `json:"success"`
	Digest  string          `json:"digest"`
	Effects json.RawMessage `json:"effects,omitempty"`
}

func resultOf(res *chain.ExecutionResult) *Result {
	return &Result{Success: res.Success(), Digest: res.Digest, Effects: res.Effects}
}

// submit sends signed bytes and classifies the outcome. It never retries.
func (s *Service) submit(ctx context.Context, action Action, txBytesB64 string, signatures []string) (*chain.ExecutionResult, error) {
	submissionID := uuid.NewString()
	start := time.Now()
	fields := map[string]interface{}{
		"action":        string(action),
		"submission_id": submissionID,
		"signatures":    len(signatures),
	}

	res, err := s.ledger.ExecuteTransaction(ctx, txBytesB64, signatures)
	if err != nil {
		se := classifyLedgerError(err)
		outcome := metrics.OutcomeError
		if se.Code == svcerrors.CodeLedgerRejected {
			outcome = metrics.OutcomeRejected
		}
		s.metrics.RecordRelaySubmission(string(action), outcome, time.Since(start))
		s.logger.Error(ctx, "transaction submission failed", err, fields)
		return nil, se
	}

	fields["digest"] = res.Digest
	if !res.Success() {
		s.metrics.RecordRelaySubmission(string(action), metrics.OutcomeRejected, time.Since(start))
		fields["ledger_error"] = res.Error
		s.logger.Warn(ctx, "transaction executed with failure status", fields)
		return res, svcerrors.LedgerRejected(res.Error, nil).WithDetails("digest", res.Digest)
	}

	s.metrics.RecordRelaySubmission(string(action), metrics.OutcomeSuccess, time.Since(start))
	s.logger.Info(ctx, "transaction executed", fields)
	return res, nil
}

// classifyLedgerError maps a gateway error: a node-reported RPC error is a
// rejection carrying the node message, anything else is an unreachable ledger.
func classifyLedgerError(err error) *svcerrors.ServiceError {
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}
	if chain.IsTransient(err) {
		return svcerrors.Upstream("ledger", err).WithDetails("transient", true)
	}
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) {
		return svcerrors.LedgerRejected(rpcErr.Message, err)
	}
	return svcerrors.Upstream("ledger", err)
}

// executeBackend builds a move call with the sponsor as signer and gas owner,
// signs it with the sponsor key alone and submits it.
func (s *Service) executeBackend(ctx context.Context, action Action, module, function string, args []interface{}) (*chain.ExecutionResult, error) {
	txBytes, err := s.ledger.MoveCall(ctx, chain.MoveCallRequest{
		Signer:    s.sponsor.Address(),
		Package:   s.packageID,
		Module:    module,
		Function:  function,
		Args:      args,
		GasBudget: s.gasBudget,
	})
	if err != nil {
		s.metrics.RecordRelaySubmission(string(action), metrics.OutcomeError, 0)
		s.logger.Error(ctx, "build transaction failed", err, map[string]interface{}{"action": string(action)})
		return nil, classifyLedgerError(err)
	}

	sig, err := s.sponsor.SignTransactionB64(txBytes)
	if err != nil {
		return nil, svcerrors.Internal("sign transaction", err)
	}
	return s.submit(ctx, action, txBytes, []string{sig})
}
