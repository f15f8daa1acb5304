// Package directory persists room metadata the ledger does not carry: display
// name, privacy flag, password hash and the yield checkpoint.
package directory

import (
	"strings"

	"github.com/shopspring/decimal"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
)

// Room is one directory record, keyed by the ledger-assigned room id.
type Room struct {
	RoomID            string          `db:"room_id"`
	VaultID           string          `db:"vault_id"`
	Creator           string          `db:"creator"`
	Name              string          `db:"name"`
	TotalPeriods      int             `db:"total_periods"`
	DepositAmount     decimal.Decimal `db:"deposit_amount"`
	StrategyID        uint8           `db:"strategy_id"`
	StartTimeMs       int64           `db:"start_time_ms"`
	PeriodLengthMs    int64           `db:"period_length_ms"`
	IsPrivate         bool            `db:"is_private"`
	PasswordHash      string          `db:"password_hash"`
	CreationDigest    string          `db:"creation_digest"`
	AccumulatedYield  float64         `db:"accumulated_yield"`
	LastYieldUpdateMs int64           `db:"last_yield_update_ms"`
	CreatedAtMs       int64           `db:"created_at_ms"`
}

// Checkpoint is the persisted yield accrual state of a room.
type Checkpoint struct {
	AccumulatedYield float64
	LastUpdateMs     int64
}

// Checkpoint returns the room's yield checkpoint.
func (r *Room) Checkpoint() Checkpoint {
	return Checkpoint{AccumulatedYield: r.AccumulatedYield, LastUpdateMs: r.LastYieldUpdateMs}
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Validate checks the fields required before persisting.
func (r *Room) Validate() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return svcerrors.InvalidField("roomId", "required")
	}
	if strings.TrimSpace(r.VaultID) == "" {
		return svcerrors.InvalidField("vaultId", "required")
	}
	if r.TotalPeriods <= 0 {
		return svcerrors.InvalidField("totalPeriods", "must be positive")
	}
	if !r.DepositAmount.IsPositive() {
		return svcerrors.InvalidField("depositAmount", "must be positive")
	}
	if r.PeriodLengthMs <= 0 {
		return svcerrors.InvalidField("periodLengthMs", "must be positive")
	}
	if r.IsPrivate && r.PasswordHash == "" {
		return svcerrors.InvalidField("passwordHash", "required for private rooms")
	}
	return nil
}

func roomNotFound(id string) error {
	return svcerrors.NotFound("room", id)
}
