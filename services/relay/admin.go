package relay

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/units"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// ValidAddress reports whether s is a 0x-prefixed hex ledger address or object id.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

func (s *Service) requireAdminCap() error {
	if s.adminCapID == "" {
		return svcerrors.Internal("admin capability not configured", nil)
	}
	return nil
}

// StartRoom starts a room's first period.
func (s *Service) StartRoom(ctx context.Context, roomID string) (*Result, error) {
	roomID = strings.TrimSpace(roomID)
	if !ValidAddress(roomID) {
		return nil, svcerrors.InvalidField("roomId", "must be a 0x object id")
	}
	if err := s.requireAdminCap(); err != nil {
		return nil, err
	}

	res, err := s.executeBackend(ctx, ActionStartRoom, s.module, "start_room",
		[]interface{}{s.adminCapID, roomID, ClockObjectID})
	if err != nil {
		return nil, err
	}
	return resultOf(res), nil
}

// FinalizeRoom closes a room and settles its vault. An empty vaultID is
// resolved from the directory.
func (s *Service) FinalizeRoom(ctx context.Context, roomID, vaultID string) (*Result, error) {
	roomID = strings.TrimSpace(roomID)
	if !ValidAddress(roomID) {
		return nil, svcerrors.InvalidField("roomId", "must be a 0x object id")
	}
	vaultID, err := s.resolveVault(ctx, roomID, vaultID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdminCap(); err != nil {
		return nil, err
	}

	res, err := s.executeBackend(ctx, ActionFinalizeRoom, s.module, "finalize_room",
		[]interface{}{s.adminCapID, roomID, vaultID, ClockObjectID})
	if err != nil {
		return nil, err
	}
	return resultOf(res), nil
}

// FundRewardPool mints amount (display units) into the room's vault reward
// balance.
func (s *Service) FundRewardPool(ctx context.Context, roomID, vaultID string, amount decimal.Decimal) (*Result, error) {
	if !amount.IsPositive() {
		return nil, svcerrors.InvalidField("amount", "must be positive")
	}
	base := units.FromDisplay(amount)
	if !base.IsPositive() {
		return nil, svcerrors.InvalidField("amount", "below the smallest unit")
	}
	if roomID != "" && !ValidAddress(roomID) {
		return nil, svcerrors.InvalidField("roomId", "must be a 0x object id")
	}
	vaultID, err := s.resolveVault(ctx, roomID, vaultID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdminCap(); err != nil {
		return nil, err
	}
	if s.treasuryCapID == "" {
		return nil, svcerrors.Internal("treasury capability not configured", nil)
	}

	res, err := s.executeBackend(ctx, ActionFundRewardPool, s.module, "fund_reward_pool",
		[]interface{}{s.adminCapID, vaultID, s.treasuryCapID, units.BaseUnitsString(base), ClockObjectID})
	if err != nil {
		return nil, err
	}
	return resultOf(res), nil
}

func (s *Service) resolveVault(ctx context.Context, roomID, vaultID string) (string, error) {
	vaultID = strings.TrimSpace(vaultID)
	if vaultID != "" {
		if !ValidAddress(vaultID) {
			return "", svcerrors.InvalidField("vaultId", "must be a 0x object id")
		}
		return vaultID, nil
	}
	if roomID == "" {
		return "", svcerrors.InvalidField("vaultId", "vaultId or roomId required")
	}
	room, err := s.directory.Get(ctx, roomID)
	if err != nil {
		return "", err
	}
	return room.VaultID, nil
}

// =============================================================================
// Test token faucet
// =============================================================================

// Mint sends amount (display units) of the test coin to recipient. Each
// recipient is limited to one mint per cooldown window; a failed mint does
// not consume the window.
func (s *Service) Mint(ctx context.Context, recipient string, amount decimal.Decimal) (*Result, error) {
	recipient = strings.TrimSpace(recipient)
	if !ValidAddress(recipient) {
		return nil, svcerrors.InvalidField("recipient", "must be a 0x address")
	}
	if !amount.IsPositive() {
		return nil, svcerrors.InvalidField("amount", "must be positive")
	}
	if s.mintMax.IsPositive() && amount.GreaterThan(s.mintMax) {
		return nil, svcerrors.InvalidField("amount", "exceeds the maximum of "+s.mintMax.String())
	}
	base := units.FromDisplay(amount)
	if !base.IsPositive() {
		return nil, svcerrors.InvalidField("amount", "below the smallest unit")
	}
	if s.treasuryCapID == "" {
		return nil, svcerrors.Internal("treasury capability not configured", nil)
	}

	key := strings.ToLower(recipient)
	ok, retryAfter, err := s.cooldown.Acquire(ctx, key, s.mintCooldown)
	if err != nil {
		return nil, svcerrors.Upstream("cooldown store", err)
	}
	if !ok {
		s.metrics.RecordMintCooldown()
		return nil, svcerrors.RateLimited("mint cooldown active for recipient", retryAfter)
	}

	res, err := s.executeBackend(ctx, ActionMint, s.coinModule, "mint",
		[]interface{}{s.treasuryCapID, units.BaseUnitsString(base), recipient})
	if err != nil {
		if relErr := s.cooldown.Release(ctx, key); relErr != nil {
			s.logger.Warn(ctx, "release mint cooldown failed", map[string]interface{}{
				"recipient": recipient,
				"error":     relErr.Error(),
			})
		}
		return nil, err
	}
	return resultOf(res), nil
}

// =============================================================================
// Sponsor account
// =============================================================================

// SponsorStatus reports the fee payer account.
type SponsorStatus struct {
	Address    string  `json:"address"`
	GasBalance float64 `json:"gasBalance"`
	// GasBalanceBase is the raw balance in the gas coin's smallest unit.
	GasBalanceBase string `json:"gasBalanceBase"`
}

// gasCoinDecimals is the precision of the ledger's native gas coin.
const gasCoinDecimals = 9

// Sponsor returns the sponsor address and its gas coin balance.
func (s *Service) Sponsor(ctx context.Context) (*SponsorStatus, error) {
	balance, err := s.ledger.GetBalance(ctx, s.sponsor.Address(), "")
	if err != nil {
		return nil, classifyLedgerError(err)
	}
	display, _ := balance.Shift(-gasCoinDecimals).Float64()
	return &SponsorStatus{
		Address:        s.sponsor.Address(),
		GasBalance:     display,
		GasBalanceBase: balance.String(),
	}, nil
}
