package directory

import (
	"github.com/shopspring/decimal"
)

func sampleRoom(id string) *Room {
	return &Room{
		RoomID:         id,
		VaultID:        "0xvault-" + id,
		Creator:        "0xcreator",
		Name:           "Holiday fund",
		TotalPeriods:   4,
		DepositAmount:  decimal.NewFromInt(1_000_000),
		StrategyID:     1,
		StartTimeMs:    1_700_000_060_000,
		PeriodLengthMs: 604_800_000,
		CreationDigest: "Dg-" + id,
		CreatedAtMs:    1_700_000_000_000,
	}
}
