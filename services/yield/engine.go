package yield

import (
	"context"
	"time"

	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/strategy"
	"github.com/R3E-Network/savings_layer/services/directory"
)

// Estimate is the live yield view of one room.
type Estimate struct {
	RoomID           string  `json:"roomId"`
	StrategyID       uint8   `json:"strategyId"`
	APY              float64 `json:"apy"`
	Principal        float64 `json:"principal"`
	AccumulatedYield float64 `json:"accumulatedYield"`
	LastUpdateMs     int64   `json:"lastYieldUpdateMs"`
}

// Engine computes live estimates and schedules checkpoint write-backs.
type Engine struct {
	table  *strategy.Table
	writer *Writer
	logger *logging.Logger
	now    func() time.Time
}

// Config configures an Engine.
type Config struct {
	Strategies *strategy.Table
	Writer     *Writer
	Logger     *logging.Logger
	Now        func() time.Time
}

// NewEngine creates an engine. A nil Writer disables write-back.
func NewEngine(cfg Config) *Engine {
	table := cfg.Strategies
	if table == nil {
		table = strategy.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{table: table, writer: cfg.Writer, logger: logger, now: now}
}

// Strategies returns the table the engine reads rates from.
func (e *Engine) Strategies() *strategy.Table {
	return e.table
}

// Advance computes the accrual for room at the engine's current time without
// side effects.
func (e *Engine) Advance(room *directory.Room, principal float64) Accrual {
	return Accrue(principal, e.table.APY(room.StrategyID), room.Checkpoint(), e.now().UnixMilli())
}

// Estimate returns the live estimate for room given its current principal in
// display units. When the checkpoint advanced, a write-back is enqueued; the
// caller never waits on it.
func (e *Engine) Estimate(ctx context.Context, room *directory.Room, principal float64) Estimate {
	acc := e.Advance(room, principal)
	if acc.Advanced {
		e.writer.Enqueue(ctx, CheckpointWrite{
			RoomID:       room.RoomID,
			Accumulated:  acc.Accumulated,
			LastUpdateMs: acc.LastUpdateMs,
		})
	}
	return Estimate{
		RoomID:           room.RoomID,
		StrategyID:       room.StrategyID,
		APY:              e.table.APY(room.StrategyID),
		Principal:        principal,
		AccumulatedYield: acc.Accumulated,
		LastUpdateMs:     acc.LastUpdateMs,
	}
}
