package yield

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/units"
	"github.com/R3E-Network/savings_layer/services/directory"
)

// DefaultSweepSchedule runs a sweep every fifteen minutes.
const DefaultSweepSchedule = "@every 15m"

// VaultReader fetches vault objects from the ledger.
type VaultReader interface {
	GetObject(ctx context.Context, id string) (*chain.Object, error)
}

// VaultPrincipal returns the principal held by a vault object in display units.
func VaultPrincipal(vault *chain.Object) float64 {
	if vault == nil {
		return 0
	}
	return units.ToDisplay(chain.BalanceField(vault.Field("principal")))
}

// Sweeper periodically advances every room's checkpoint from the live vault
// principal, so rooms nobody reads still accrue against the right balance.
type Sweeper struct {
	store    directory.Store
	vaults   VaultReader
	engine   *Engine
	logger   *logging.Logger
	schedule string
	timeout  time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Store    directory.Store
	Vaults   VaultReader
	Engine   *Engine
	Logger   *logging.Logger
	Schedule string
	Timeout  time.Duration
}

// NewSweeper creates a sweeper. The schedule accepts standard cron
// expressions and descriptors such as "@every 10m".
func NewSweeper(cfg SweeperConfig) *Sweeper {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:    cfg.Store,
		vaults:   cfg.Vaults,
		engine:   cfg.Engine,
		logger:   logger,
		schedule: schedule,
		timeout:  timeout,
	}
}

// Start registers the sweep with a cron scheduler and starts it.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("yield sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop stops the scheduler and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("yield sweeper stop: %w", ctx.Err())
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	advanced, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn(ctx, "yield sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.logger.Info(ctx, "yield sweep complete", map[string]interface{}{"advanced": advanced})
}

// Sweep advances the checkpoint of every room once and returns how many
// checkpoints moved. Per-room failures are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	rooms, err := s.store.ListAll(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	advanced := 0
	for _, room := range rooms {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}

		vault, err := s.vaults.GetObject(ctx, room.VaultID)
		if err != nil {
			s.logger.Warn(ctx, "yield sweep: vault lookup failed", map[string]interface{}{
				"room_id":  room.RoomID,
				"vault_id": room.VaultID,
				"error":    err.Error(),
			})
			continue
		}

		acc := s.engine.Advance(room, VaultPrincipal(vault))
		if !acc.Advanced {
			continue
		}
		ok, err := s.store.UpdateYieldCheckpoint(ctx, room.RoomID, acc.Accumulated, acc.LastUpdateMs)
		if err != nil {
			s.logger.Warn(ctx, "yield sweep: checkpoint write failed", map[string]interface{}{
				"room_id": room.RoomID,
				"error":   err.Error(),
			})
			continue
		}
		if ok {
			advanced++
		}
	}
	return advanced, nil
}
