package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/internal/units"
	"github.com/R3E-Network/savings_layer/services/directory"
	"github.com/R3E-Network/savings_layer/services/relay"
	"github.com/R3E-Network/savings_layer/services/yield"
)

// RoomRecord is the public form of a directory record. The password hash is
// never rendered.
type RoomRecord struct {
	RoomID            string  `json:"roomId"`
	VaultID           string  `json:"vaultId"`
	Creator           string  `json:"creator"`
	Name              string  `json:"name"`
	TotalPeriods      int     `json:"totalPeriods"`
	DepositAmount     string  `json:"depositAmount"`
	StrategyID        uint8   `json:"strategyId"`
	StartTimeMs       int64   `json:"startTimeMs"`
	PeriodLengthMs    int64   `json:"periodLengthMs"`
	IsPrivate         bool    `json:"isPrivate"`
	CreationDigest    string  `json:"creationDigest"`
	AccumulatedYield  float64 `json:"accumulatedYield"`
	LastYieldUpdateMs int64   `json:"lastYieldUpdateMs"`
	CreatedAtMs       int64   `json:"createdAtMs"`
}

func recordOf(r *directory.Room) RoomRecord {
	return RoomRecord{
		RoomID:            r.RoomID,
		VaultID:           r.VaultID,
		Creator:           r.Creator,
		Name:              r.Name,
		TotalPeriods:      r.TotalPeriods,
		DepositAmount:     units.BaseUnitsString(r.DepositAmount),
		StrategyID:        r.StrategyID,
		StartTimeMs:       r.StartTimeMs,
		PeriodLengthMs:    r.PeriodLengthMs,
		IsPrivate:         r.IsPrivate,
		CreationDigest:    r.CreationDigest,
		AccumulatedYield:  r.AccumulatedYield,
		LastYieldUpdateMs: r.LastYieldUpdateMs,
		CreatedAtMs:       r.CreatedAtMs,
	}
}

func recordsOf(rooms []*directory.Room) []RoomRecord {
	out := make([]RoomRecord, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, recordOf(r))
	}
	return out
}

func pathAddress(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(mux.Vars(r)[name])
	if !relay.ValidAddress(v) {
		return "", svcerrors.InvalidField(name, "must be a 0x address")
	}
	return v, nil
}

// =============================================================================
// Writes
// =============================================================================

type createRoomBody struct {
	Name           string          `json:"name"`
	Creator        string          `json:"creator"`
	TotalPeriods   int             `json:"totalPeriods"`
	DepositAmount  decimal.Decimal `json:"depositAmount"`
	StrategyID     uint8           `json:"strategyId"`
	StartTimeMs    int64           `json:"startTimeMs"`
	PeriodLengthMs int64           `json:"periodLengthMs"`
	IsPrivate      bool            `json:"isPrivate"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body createRoomBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	creator := body.Creator
	if creator == "" {
		creator = middleware.GetAddress(r.Context())
	}

	res, err := s.relay.CreateRoom(r.Context(), relay.CreateRoomRequest{
		Name:           body.Name,
		Creator:        creator,
		TotalPeriods:   body.TotalPeriods,
		DepositAmount:  body.DepositAmount,
		StrategyID:     body.StrategyID,
		StartTimeMs:    body.StartTimeMs,
		PeriodLengthMs: body.PeriodLengthMs,
		IsPrivate:      body.IsPrivate,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleSponsored(fn func(context.Context, relay.SponsoredRequest) (*relay.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body relay.SponsoredRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		res, err := fn(r.Context(), body)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

type adminRoomBody struct {
	RoomID  string          `json:"roomId"`
	VaultID string          `json:"vaultId,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

func (s *Server) handleStartRoom(w http.ResponseWriter, r *http.Request) {
	var body adminRoomBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	res, err := s.relay.StartRoom(r.Context(), body.RoomID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleFinalizeRoom(w http.ResponseWriter, r *http.Request) {
	var body adminRoomBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	res, err := s.relay.FinalizeRoom(r.Context(), body.RoomID, body.VaultID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleFundReward(w http.ResponseWriter, r *http.Request) {
	var body adminRoomBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	res, err := s.relay.FundRewardPool(r.Context(), body.RoomID, body.VaultID, body.Amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecoverRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Digest string `json:"digest"`
		Name   string `json:"name"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	res, err := s.relay.RecoverRoom(r.Context(), body.Digest, body.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleWipeRooms(w http.ResponseWriter, r *http.Request) {
	removed, err := s.directory.Wipe(r.Context())
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Internal("wipe room directory", err))
		return
	}
	s.logger.Warn(r.Context(), "room directory wiped", map[string]interface{}{"removed": removed})
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleFindByPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.Password == "" {
		httputil.WriteError(w, r, svcerrors.InvalidField("password", "required"))
		return
	}
	room, err := s.directory.FindByPasswordHash(r.Context(), directory.HashPassword(body.Password))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"roomId": room.RoomID, "vaultId": room.VaultID})
}

// =============================================================================
// Reads
// =============================================================================

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathAddress(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	ctx := r.Context()

	rec, err := s.directory.Get(ctx, roomID)
	if err != nil && !svcerrors.IsNotFound(err) {
		httputil.WriteError(w, r, svcerrors.Internal("read room directory", err))
		return
	}
	if err != nil {
		rec = nil
	}

	var (
		total float64
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		total = s.aggregator.TotalDeposit(ctx, roomID)
	}()

	obj, objErr := s.ledger.GetObject(ctx, roomID)
	if objErr != nil {
		obj = nil
		switch {
		case rec == nil && errors.Is(objErr, chain.ErrObjectNotFound):
			wg.Wait()
			httputil.WriteError(w, r, svcerrors.NotFound("room", roomID))
			return
		case rec == nil:
			wg.Wait()
			httputil.WriteError(w, r, svcerrors.Upstream("ledger", objErr))
			return
		default:
			s.logger.Warn(ctx, "room object unavailable, serving directory record", map[string]interface{}{
				"room_id": roomID,
				"error":   objErr.Error(),
			})
		}
	}

	vaultID := ""
	if rec != nil {
		vaultID = rec.VaultID
	} else if v := obj.Field("vault_id"); v.Exists() {
		vaultID = v.String()
	}
	vault := s.fetchVault(ctx, roomID, vaultID)
	wg.Wait()

	view := map[string]interface{}{}
	if obj != nil {
		for k, v := range obj.FieldsMap() {
			view[k] = v
		}
	}
	view["roomId"] = roomID
	view["totalDeposit"] = total
	view["rewardPool"] = 0.0
	if vault != nil {
		view["vaultId"] = vault.ID
		view["rewardPool"] = units.ToDisplay(chain.BalanceField(vault.Field("reward")))
	}

	if rec != nil {
		local := recordOf(rec)
		view["vaultId"] = local.VaultID
		view["name"] = local.Name
		view["creator"] = local.Creator
		view["totalPeriods"] = local.TotalPeriods
		view["depositAmount"] = local.DepositAmount
		view["strategyId"] = local.StrategyID
		view["startTimeMs"] = local.StartTimeMs
		view["periodLengthMs"] = local.PeriodLengthMs
		view["isPrivate"] = local.IsPrivate
		view["creationDigest"] = local.CreationDigest
		view["createdAtMs"] = local.CreatedAtMs

		principal := total
		if vault != nil {
			principal = yield.VaultPrincipal(vault)
		}
		est := s.yield.Estimate(ctx, rec, principal)
		view["accumulatedYield"] = est.AccumulatedYield
		view["yield"] = est
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"room": view})
}

// fetchVault reads the vault object, or returns nil when it is unknown or
// unreadable.
func (s *Server) fetchVault(ctx context.Context, roomID, vaultID string) *chain.Object {
	if vaultID == "" {
		return nil
	}
	vault, err := s.ledger.GetObject(ctx, vaultID)
	if err != nil {
		s.logger.Warn(ctx, "vault object unavailable", map[string]interface{}{
			"room_id":  roomID,
			"vault_id": vaultID,
			"error":    err.Error(),
		})
		return nil
	}
	return vault
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathAddress(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"participants": s.aggregator.Participants(r.Context(), roomID),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathAddress(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.aggregator.History(r.Context(), roomID),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathAddress(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	address, err := pathAddress(r, "address")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	pos, err := s.aggregator.Position(r.Context(), roomID, address)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

func (s *Server) handleUserJoined(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r, "address")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": s.aggregator.UserRooms(r.Context(), address),
	})
}

func (s *Server) handleUserCreated(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r, "address")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rooms, err := s.directory.ListByCreator(r.Context(), address)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Internal("read room directory", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"rooms": recordsOf(rooms)})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	newestFirst := r.URL.Query().Get("order") != "oldest"
	rooms, err := s.directory.ListAll(r.Context(), newestFirst)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Internal("read room directory", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"rooms": recordsOf(rooms)})
}
