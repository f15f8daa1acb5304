package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/metrics"
	"github.com/R3E-Network/savings_layer/internal/units"
	"github.com/R3E-Network/savings_layer/services/directory"
)

// DefaultRoomName is used when a room is created without a name.
const DefaultRoomName = "Savings room"

// CreateRoomRequest describes a new room. DepositAmount is in base units.
type CreateRoomRequest struct {
	Name           string
	Creator        string
	TotalPeriods   int
	DepositAmount  decimal.Decimal
	StrategyID     uint8
	StartTimeMs    int64
	PeriodLengthMs int64
	IsPrivate      bool
}

// CreateRoomResult is returned once. Password is set only for private rooms
// and is not recoverable afterwards.
type CreateRoomResult struct {
	Success  bool   `json:"success"`
	Digest   string `json:"digest"`
	RoomID   string `json:"roomId"`
	VaultID  string `json:"vaultId"`
	Password string `json:"password,omitempty"`
}

// Validate checks the request before any ledger call.
func (r *CreateRoomRequest) Validate(s *Service) error {
	if r.TotalPeriods <= 0 {
		return svcerrors.InvalidField("totalPeriods", "must be positive")
	}
	if !r.DepositAmount.IsPositive() || !r.DepositAmount.IsInteger() {
		return svcerrors.InvalidField("depositAmount", "must be a positive integer amount of base units")
	}
	if !s.strategies.Valid(r.StrategyID) {
		return svcerrors.InvalidField("strategyId", "unknown strategy")
	}
	if r.StartTimeMs <= 0 {
		return svcerrors.InvalidField("startTimeMs", "must be positive")
	}
	if r.PeriodLengthMs <= 0 {
		return svcerrors.InvalidField("periodLengthMs", "must be positive")
	}
	if r.Creator != "" && !ValidAddress(r.Creator) {
		return svcerrors.InvalidField("creator", "must be a 0x address")
	}
	return nil
}

// CreateRoom creates a room on the ledger, records it in the directory and
// schedules its start. If the transaction commits but the room and vault
// cannot be identified or recorded, a partial-success error carrying the
// digest is returned.
func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResult, error) {
	if err := req.Validate(s); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultRoomName
	}
	creator := req.Creator
	if creator == "" {
		creator = s.sponsor.Address()
	}

	var password, passwordHash string
	if req.IsPrivate {
		var err error
		if password, err = directory.GeneratePassword(); err != nil {
			return nil, svcerrors.Internal("generate room password", err)
		}
		passwordHash = directory.HashPassword(password)
	}

	res, err := s.executeBackend(ctx, ActionCreateRoom, s.module, "create_room", []interface{}{
		creator,
		strconv.Itoa(req.TotalPeriods),
		units.BaseUnitsString(req.DepositAmount),
		req.StrategyID,
		strconv.FormatInt(req.StartTimeMs, 10),
		strconv.FormatInt(req.PeriodLengthMs, 10),
		ClockObjectID,
	})
	if err != nil {
		return nil, err
	}

	roomID, vaultID, ok := s.discover(ctx, res)
	if !ok {
		s.logger.Warn(ctx, "room created but room/vault ids not discoverable", map[string]interface{}{
			"digest":  res.Digest,
			"created": len(res.Created),
		})
		return nil, svcerrors.PartialSuccess("room created on ledger but its ids could not be determined", res.Digest)
	}

	nowMs := s.now().UnixMilli()
	record := &directory.Room{
		RoomID:            roomID,
		VaultID:           vaultID,
		Creator:           creator,
		Name:              name,
		TotalPeriods:      req.TotalPeriods,
		DepositAmount:     req.DepositAmount,
		StrategyID:        req.StrategyID,
		StartTimeMs:       req.StartTimeMs,
		PeriodLengthMs:    req.PeriodLengthMs,
		IsPrivate:         req.IsPrivate,
		PasswordHash:      passwordHash,
		CreationDigest:    res.Digest,
		LastYieldUpdateMs: nowMs,
		CreatedAtMs:       nowMs,
	}
	if err := s.directory.Upsert(ctx, record); err != nil {
		s.logger.Error(ctx, "room created but directory write failed", err, map[string]interface{}{
			"digest":  res.Digest,
			"room_id": roomID,
		})
		return nil, svcerrors.PartialSuccess("room created on ledger but could not be recorded", res.Digest).
			WithDetails("roomId", roomID).
			WithDetails("vaultId", vaultID)
	}

	s.scheduleAutoStart(ctx, roomID)

	return &CreateRoomResult{
		Success:  true,
		Digest:   res.Digest,
		RoomID:   roomID,
		VaultID:  vaultID,
		Password: password,
	}, nil
}

// =============================================================================
// Room / Vault discovery
// =============================================================================

// discover identifies the room and vault among the objects created by res.
// Types come from objectChanges when present; objects without a type are
// fetched after the discovery delay.
func (s *Service) discover(ctx context.Context, res *chain.ExecutionResult) (roomID, vaultID string, ok bool) {
	if len(res.Created) < 2 {
		return "", "", false
	}

	types := res.CreatedTypes()
	var missing []string
	for _, ref := range res.Created {
		if _, known := types[ref.ObjectID]; !known {
			missing = append(missing, ref.ObjectID)
		}
	}

	if len(missing) > 0 {
		if err := s.sleep(ctx, s.discoveryDelay); err != nil {
			return "", "", false
		}
		objs, err := s.ledger.MultiGetObjects(ctx, missing)
		if err != nil {
			s.logger.Warn(ctx, "created object lookup failed", map[string]interface{}{
				"object_ids": missing,
				"digest":     res.Digest,
				"error":      err.Error(),
			})
		}
		for i, obj := range objs {
			if obj != nil && i < len(missing) {
				types[missing[i]] = obj.Type
			}
		}
	}

	ids := make([]string, 0, len(res.Created))
	for _, ref := range res.Created {
		ids = append(ids, ref.ObjectID)
	}
	roomID = s.classify(ids, types, "Room", "")
	vaultID = s.classify(ids, types, "Vault", roomID)
	return roomID, vaultID, roomID != "" && vaultID != ""
}

// classify returns the first id whose type is <package>::<module>::<name>,
// falling back to the first type containing name.
func (s *Service) classify(ids []string, types map[string]string, name, exclude string) string {
	want := strings.ToLower(s.packageID + "::" + s.module + "::" + name)
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if strings.ToLower(baseType(types[id])) == want {
			return id
		}
	}
	for _, id := range ids {
		if id == exclude {
			continue
		}
		t := baseType(types[id])
		if i := strings.LastIndex(t, "::"); i >= 0 && strings.Contains(t[i+2:], name) {
			return id
		}
	}
	return ""
}

// baseType strips generic parameters from a Move type.
func baseType(t string) string {
	if i := strings.Index(t, "<"); i >= 0 {
		return t[:i]
	}
	return t
}

// =============================================================================
// Auto-start
// =============================================================================

// scheduleAutoStart starts roomID after the indexing delay. Failure is logged
// and counted; the room stays startable by hand.
func (s *Service) scheduleAutoStart(parent context.Context, roomID string) {
	if !s.autoStart || s.adminCapID == "" {
		return
	}
	s.goBackground(parent, func(ctx context.Context) {
		if err := s.sleep(ctx, s.autoStartDelay); err != nil {
			s.metrics.RecordAutoStart(metrics.OutcomeDropped)
			return
		}
		if _, err := s.StartRoom(ctx, roomID); err != nil {
			s.metrics.RecordAutoStart(metrics.OutcomeError)
			s.logger.Warn(ctx, "auto-start failed; room can be started manually", map[string]interface{}{
				"room_id": roomID,
				"error":   err.Error(),
			})
			return
		}
		s.metrics.RecordAutoStart(metrics.OutcomeSuccess)
		s.logger.Info(ctx, "room auto-started", map[string]interface{}{"room_id": roomID})
	})
}

// =============================================================================
// Recovery
// =============================================================================

// RecoverRoom re-runs discovery for a committed create-room transaction and
// records the room from its ledger fields. It reconciles partial successes.
// A room that is already recorded keeps its name, privacy and password hash;
// only the vault id and creation digest are filled in when missing. A room
// recorded here for the first time is public.
func (s *Service) RecoverRoom(ctx context.Context, digest, name string) (*CreateRoomResult, error) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil, svcerrors.InvalidField("digest", "required")
	}

	res, err := s.ledger.GetTransaction(ctx, digest)
	if err != nil {
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) {
			return nil, svcerrors.NotFound("transaction", digest)
		}
		return nil, classifyLedgerError(err)
	}
	if !res.Success() {
		return nil, svcerrors.LedgerRejected(res.Error, nil).WithDetails("digest", digest)
	}

	roomID, vaultID, ok := s.discover(ctx, res)
	if !ok {
		return nil, svcerrors.PartialSuccess("transaction did not create a discoverable room", digest)
	}

	exists, err := s.directory.Exists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.reconcileRecorded(ctx, roomID, vaultID, digest)
	}

	obj, err := s.ledger.GetObject(ctx, roomID)
	if err != nil {
		if errors.Is(err, chain.ErrObjectNotFound) {
			return nil, svcerrors.NotFound("room", roomID)
		}
		return nil, classifyLedgerError(err)
	}

	record, err := roomFromObject(obj)
	if err != nil {
		return nil, err
	}
	record.VaultID = vaultID
	record.CreationDigest = digest
	record.Name = strings.TrimSpace(name)
	if record.Name == "" {
		record.Name = DefaultRoomName
	}
	if record.Creator == "" {
		record.Creator = senderOf(res)
	}
	nowMs := s.now().UnixMilli()
	record.CreatedAtMs = nowMs
	record.LastYieldUpdateMs = nowMs

	if err := s.directory.Upsert(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "room recovered", map[string]interface{}{"room_id": roomID, "digest": digest})
	return &CreateRoomResult{Success: true, Digest: digest, RoomID: roomID, VaultID: vaultID}, nil
}

// reconcileRecorded fills the ledger-derived ids of an existing record
// without touching anything the creator chose.
func (s *Service) reconcileRecorded(ctx context.Context, roomID, vaultID, digest string) (*CreateRoomResult, error) {
	record, err := s.directory.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	changed := false
	if record.VaultID == "" && vaultID != "" {
		record.VaultID = vaultID
		changed = true
	}
	if record.CreationDigest == "" {
		record.CreationDigest = digest
		changed = true
	}
	if changed {
		if err := s.directory.Upsert(ctx, record); err != nil {
			return nil, err
		}
	}
	s.logger.Info(ctx, "room already recorded", map[string]interface{}{
		"room_id": roomID,
		"digest":  digest,
		"updated": changed,
	})
	return &CreateRoomResult{Success: true, Digest: digest, RoomID: roomID, VaultID: record.VaultID}, nil
}

func roomFromObject(obj *chain.Object) (*directory.Room, error) {
	deposit, err := units.ParseBaseUnits(obj.Field("deposit_amount").String())
	if err != nil {
		return nil, svcerrors.Internal("room object has no valid deposit_amount", err)
	}
	return &directory.Room{
		RoomID:         obj.ID,
		Creator:        obj.Field("creator").String(),
		TotalPeriods:   int(obj.Field("total_periods").Int()),
		DepositAmount:  deposit,
		StrategyID:     uint8(obj.Field("strategy_id").Uint()),
		StartTimeMs:    firstInt(obj, "start_time_ms", "start_time"),
		PeriodLengthMs: firstInt(obj, "period_length_ms", "period_length"),
	}, nil
}

func firstInt(obj *chain.Object, names ...string) int64 {
	for _, name := range names {
		if v := obj.Field(name); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func senderOf(res *chain.ExecutionResult) string {
	for _, ch := range res.ObjectChanges {
		if ch.Sender != "" {
			return ch.Sender
		}
	}
	return ""
}
