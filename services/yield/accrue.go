// Package yield estimates continuously accruing yield between ledger
// checkpoints and persists the running checkpoint in the room directory.
//
// All math is in display units. The estimate is informational and is never
// used to authorize a transfer; the vault balance on the ledger is the only
// authoritative amount.
package yield

import (
	"github.com/R3E-Network/savings_layer/services/directory"
)

// MillisecondsPerYear uses a 365.25-day year.
const MillisecondsPerYear = 365.25 * 24 * 60 * 60 * 1000

// Accrual is the outcome of advancing a checkpoint to a point in time.
type Accrual struct {
	// NewYield is the yield earned since the previous checkpoint.
	NewYield float64
	// Accumulated is the total yield as of LastUpdateMs.
	Accumulated  float64
	LastUpdateMs int64
	// Advanced is false when now was not after the checkpoint.
	Advanced bool
}

// Checkpoint converts the accrual into a persistable checkpoint.
func (a Accrual) Checkpoint() directory.Checkpoint {
	return directory.Checkpoint{AccumulatedYield: a.Accumulated, LastUpdateMs: a.LastUpdateMs}
}

// Accrue advances cp to nowMs assuming constant principal and APY over the
// interval. A checkpoint with no timestamp is established at nowMs without
// accruing. A nowMs before the checkpoint leaves it unchanged.
func Accrue(principal, apy float64, cp directory.Checkpoint, nowMs int64) Accrual {
	if cp.LastUpdateMs == 0 {
		return Accrual{Accumulated: cp.AccumulatedYield, LastUpdateMs: nowMs, Advanced: nowMs > 0}
	}
	if nowMs <= cp.LastUpdateMs {
		return Accrual{Accumulated: cp.AccumulatedYield, LastUpdateMs: cp.LastUpdateMs}
	}

	var earned float64
	if principal > 0 && apy > 0 {
		earned = principal * apy * float64(nowMs-cp.LastUpdateMs) / MillisecondsPerYear
	}
	return Accrual{
		NewYield:     earned,
		Accumulated:  cp.AccumulatedYield + earned,
		LastUpdateMs: nowMs,
		Advanced:     true,
	}
}
