package aggregator

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
	"github.com/R3E-Network/savings_layer/internal/units"
)

// Participant is one member of a room.
type Participant struct {
	Address          string  `json:"address"`
	PlayerPositionID string  `json:"playerPositionId"`
	TotalDeposit     float64 `json:"totalDeposit"`
	DepositsCount    int     `json:"depositsCount"`
	JoinedAt         int64   `json:"joinedAt"`
}

// UserRoom is one room a user joined.
type UserRoom struct {
	RoomID           string  `json:"roomId"`
	PlayerPositionID string  `json:"playerPositionId"`
	JoinedAt         int64   `json:"joinedAt"`
	InitialDeposit   float64 `json:"initialDeposit"`
}

// History entry types.
const (
	HistoryJoin    = "join"
	HistoryDeposit = "deposit"
)

// HistoryEntry is one join or deposit event of a room.
type HistoryEntry struct {
	Type        string  `json:"type"`
	Address     string  `json:"address"`
	Amount      float64 `json:"amount"`
	Period      *uint64 `json:"period,omitempty"`
	TimestampMs int64   `json:"timestamp"`
	Digest      string  `json:"digest"`
	EventSeq    string  `json:"eventSeq"`
}

// Position is a user's participation in a room.
type Position struct {
	RoomID              string  `json:"roomId"`
	Address             string  `json:"address"`
	PositionID          string  `json:"positionId"`
	InitialDeposit      float64 `json:"initialDeposit"`
	TotalDeposit        float64 `json:"totalDeposit"`
	JoinedAt            int64   `json:"joinedAt"`
	DepositedCount      uint64  `json:"depositedCount"`
	LastPeriodDeposited uint64  `json:"lastPeriodDeposited"`
	Claimed             bool    `json:"claimed"`
	// Live is false when the position object could not be read and the
	// counters were derived from events alone.
	Live bool `json:"live"`
}

// TotalDeposit sums every join and deposit amount of roomID in display units.
// A room with no events totals zero.
func (s *Service) TotalDeposit(ctx context.Context, roomID string) float64 {
	return units.ToDisplay(sumAmounts(s.fetch(ctx), roomID))
}

// Participants returns one entry per joined address. Deposits from an
// address with no join event are ignored.
func (s *Service) Participants(ctx context.Context, roomID string) []Participant {
	set := s.fetch(ctx)

	type acc struct {
		p     Participant
		total decimal.Decimal
	}
	byAddr := make(map[string]*acc)
	order := make([]string, 0)
	for _, j := range set.joins {
		if !sameAddress(j.RoomID, roomID) {
			continue
		}
		key := normalize(j.Address)
		if _, ok := byAddr[key]; ok {
			continue
		}
		byAddr[key] = &acc{
			p: Participant{
				Address:          j.Address,
				PlayerPositionID: j.PositionID,
				DepositsCount:    1,
				JoinedAt:         j.TimestampMs,
			},
			total: j.Amount,
		}
		order = append(order, key)
	}
	for _, d := range set.deposits {
		if !sameAddress(d.RoomID, roomID) {
			continue
		}
		a, ok := byAddr[normalize(d.Address)]
		if !ok {
			continue
		}
		a.total = a.total.Add(d.Amount)
		a.p.DepositsCount++
	}

	out := make([]Participant, 0, len(order))
	for _, key := range order {
		a := byAddr[key]
		a.p.TotalDeposit = units.ToDisplay(a.total)
		out = append(out, a.p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// UserRooms returns one entry per join event of address, newest first.
func (s *Service) UserRooms(ctx context.Context, address string) []UserRoom {
	out := make([]UserRoom, 0)
	for _, j := range s.fetchJoins(ctx) {
		if !sameAddress(j.Address, address) {
			continue
		}
		out = append(out, UserRoom{
			RoomID:           j.RoomID,
			PlayerPositionID: j.PositionID,
			JoinedAt:         j.TimestampMs,
			InitialDeposit:   units.ToDisplay(j.Amount),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt > out[j].JoinedAt })
	return out
}

// History merges the join and deposit events of roomID, newest first.
func (s *Service) History(ctx context.Context, roomID string) []HistoryEntry {
	set := s.fetch(ctx)

	out := make([]HistoryEntry, 0, len(set.joins)+len(set.deposits))
	for _, j := range set.joins {
		if !sameAddress(j.RoomID, roomID) {
			continue
		}
		out = append(out, HistoryEntry{
			Type:        HistoryJoin,
			Address:     j.Address,
			Amount:      units.ToDisplay(j.Amount),
			TimestampMs: j.TimestampMs,
			Digest:      j.ID.TxDigest,
			EventSeq:    j.ID.EventSeq,
		})
	}
	for _, d := range set.deposits {
		if !sameAddress(d.RoomID, roomID) {
			continue
		}
		period := d.Period
		out = append(out, HistoryEntry{
			Type:        HistoryDeposit,
			Address:     d.Address,
			Amount:      units.ToDisplay(d.Amount),
			Period:      &period,
			TimestampMs: d.TimestampMs,
			Digest:      d.ID.TxDigest,
			EventSeq:    d.ID.EventSeq,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs > out[j].TimestampMs
		}
		if out[i].Digest != out[j].Digest {
			return out[i].Digest < out[j].Digest
		}
		return out[i].EventSeq < out[j].EventSeq
	})
	return out
}

// Position reconstructs address's position in roomID from its join event and
// the live position object. It returns not-found when the user never joined.
func (s *Service) Position(ctx context.Context, roomID, address string) (*Position, error) {
	set := s.fetch(ctx)

	var join *chain.PlayerJoined
	for i := range set.joins {
		j := set.joins[i]
		if sameAddress(j.RoomID, roomID) && sameAddress(j.Address, address) {
			join = &j
			break
		}
	}
	if join == nil {
		return nil, svcerrors.NotFound("position", roomID+"/"+address)
	}

	total := join.Amount
	var count, last uint64 = 1, 0
	for _, d := range set.deposits {
		if sameAddress(d.RoomID, roomID) && sameAddress(d.Address, address) {
			total = total.Add(d.Amount)
			count++
			if d.Period > last {
				last = d.Period
			}
		}
	}

	pos := &Position{
		RoomID:              join.RoomID,
		Address:             join.Address,
		PositionID:          join.PositionID,
		InitialDeposit:      units.ToDisplay(join.Amount),
		TotalDeposit:        units.ToDisplay(total),
		JoinedAt:            join.TimestampMs,
		DepositedCount:      count,
		LastPeriodDeposited: last,
	}

	obj, err := s.ledger.GetObject(ctx, join.PositionID)
	switch {
	case errors.Is(err, chain.ErrObjectNotFound):
		s.logger.Warn(ctx, "position object missing on ledger", map[string]interface{}{
			"room_id":     roomID,
			"position_id": join.PositionID,
		})
	case err != nil:
		s.logger.Warn(ctx, "position object lookup failed", map[string]interface{}{
			"room_id":     roomID,
			"position_id": join.PositionID,
			"error":       err.Error(),
		})
	default:
		pos.Live = true
		if v := obj.Field("deposited_count"); v.Exists() {
			pos.DepositedCount = v.Uint()
		}
		if v := obj.Field("last_period_deposited"); v.Exists() {
			pos.LastPeriodDeposited = v.Uint()
		}
		pos.Claimed = obj.Field("claimed").Bool()
	}
	return pos, nil
}
