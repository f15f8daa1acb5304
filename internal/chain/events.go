package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/savings_layer/internal/units"
)

// MaxEventPageSize is the node's upper bound for one event page.
const MaxEventPageSize = 50

// EventKind names a contract event type.
type EventKind string

const (
	KindPlayerJoined EventKind = "PlayerJoined"
	KindDepositMade  EventKind = "DepositMade"
)

// EventType returns the fully-qualified Move event type.
func EventType(packageID, module string, kind EventKind) string {
	return fmt.Sprintf("%s::%s::%s", packageID, module, kind)
}

// =============================================================================
// Event Queries
// =============================================================================

// QueryEvents returns one page of events of a Move event type.
func (c *Client) QueryEvents(ctx context.Context, eventType string, cursor *EventID, limit int, descending bool) (*EventPage, error) {
	if limit <= 0 || limit > MaxEventPageSize {
		limit = MaxEventPageSize
	}

	var cursorParam interface{}
	if cursor != nil {
		cursorParam = cursor
	}

	result, err := c.Call(ctx, "suix_queryEvents", []interface{}{
		map[string]string{"MoveEventType": eventType},
		cursorParam,
		limit,
		descending,
	})
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(result)
	page := &EventPage{HasNextPage: res.Get("hasNextPage").Bool()}
	res.Get("data").ForEach(func(_, v gjson.Result) bool {
		page.Events = append(page.Events, parseRawEvent(v))
		return true
	})
	if next := res.Get("nextCursor"); next.IsObject() {
		page.NextCursor = &EventID{
			TxDigest: next.Get("txDigest").String(),
			EventSeq: next.Get("eventSeq").String(),
		}
	}
	return page, nil
}

// QueryAllEvents pages through events newest first until max events are
// collected or the node reports no further page.
func (c *Client) QueryAllEvents(ctx context.Context, eventType string, max int) ([]RawEvent, error) {
	if max <= 0 {
		max = MaxEventPageSize
	}

	var (
		out    []RawEvent
		cursor *EventID
	)
	for len(out) < max {
		limit := max - len(out)
		if limit > c.pageSize {
			limit = c.pageSize
		}
		page, err := c.QueryEvents(ctx, eventType, cursor, limit, true)
		if err != nil {
			return out, err
		}
		out = append(out, page.Events...)
		if !page.HasNextPage || page.NextCursor == nil || len(page.Events) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func parseRawEvent(v gjson.Result) RawEvent {
	return RawEvent{
		ID: EventID{
			TxDigest: v.Get("id.txDigest").String(),
			EventSeq: v.Get("id.eventSeq").String(),
		},
		Type:        v.Get("type").String(),
		Sender:      v.Get("sender").String(),
		TimestampMs: v.Get("timestampMs").Int(),
		ParsedJSON:  v.Get("parsedJson"),
	}
}

// =============================================================================
// Typed Events
// =============================================================================

// Event is a schema-validated contract event.
type Event interface {
	Kind() EventKind
	Key() EventID
	Room() string
	Player() string
	Timestamp() int64
	isEvent()
}

// PlayerJoined is emitted when a user joins a room with an initial deposit.
type PlayerJoined struct {
	ID          EventID
	RoomID      string
	Address     string
	Amount      decimal.Decimal
	PositionID  string
	TimestampMs int64
}

func (e PlayerJoined) Kind() EventKind  { return KindPlayerJoined }
func (e PlayerJoined) Key() EventID     { return e.ID }
func (e PlayerJoined) Room() string     { return e.RoomID }
func (e PlayerJoined) Player() string   { return e.Address }
func (e PlayerJoined) Timestamp() int64 { return e.TimestampMs }
func (PlayerJoined) isEvent()           {}

// DepositMade is emitted for each periodic deposit.
type DepositMade struct {
	ID             EventID
	RoomID         string
	Address        string
	Amount         decimal.Decimal
	Period         uint64
	TotalDeposited decimal.Decimal
	TimestampMs    int64
}

func (e DepositMade) Kind() EventKind  { return KindDepositMade }
func (e DepositMade) Key() EventID     { return e.ID }
func (e DepositMade) Room() string     { return e.RoomID }
func (e DepositMade) Player() string   { return e.Address }
func (e DepositMade) Timestamp() int64 { return e.TimestampMs }
func (DepositMade) isEvent()           {}

// KindOf extracts the event kind from a fully-qualified Move type.
func KindOf(moveType string) EventKind {
	if i := strings.Index(moveType, "<"); i >= 0 {
		moveType = moveType[:i]
	}
	if i := strings.LastIndex(moveType, "::"); i >= 0 {
		moveType = moveType[i+2:]
	}
	return EventKind(moveType)
}

// ParseEvent validates a raw event against the schema of its kind.
func ParseEvent(raw RawEvent) (Event, error) {
	if raw.ID.TxDigest == "" {
		return nil, fmt.Errorf("event without transaction digest")
	}
	fields := raw.ParsedJSON
	if !fields.IsObject() {
		return nil, fmt.Errorf("event %s: parsedJson is not an object", raw.ID)
	}

	roomID, err := requiredString(fields, "room_id")
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", raw.ID, err)
	}
	player, err := requiredString(fields, "player")
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", raw.ID, err)
	}
	amount, err := requiredAmount(fields, "amount")
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", raw.ID, err)
	}
	ts, err := timestamp(fields, raw.TimestampMs)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", raw.ID, err)
	}

	switch kind := KindOf(raw.Type); kind {
	case KindPlayerJoined:
		positionID := firstString(fields, "player_position_id", "position_id")
		if positionID == "" {
			return nil, fmt.Errorf("event %s: missing player_position_id", raw.ID)
		}
		return PlayerJoined{
			ID:          raw.ID,
			RoomID:      roomID,
			Address:     player,
			Amount:      amount,
			PositionID:  positionID,
			TimestampMs: ts,
		}, nil

	case KindDepositMade:
		period, err := optionalUint(fields, "period")
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", raw.ID, err)
		}
		total := amount
		if v := fields.Get("total_deposited"); v.Exists() {
			if total, err = units.ParseBaseUnits(v.String()); err != nil {
				return nil, fmt.Errorf("event %s: total_deposited: %w", raw.ID, err)
			}
		}
		return DepositMade{
			ID:             raw.ID,
			RoomID:         roomID,
			Address:        player,
			Amount:         amount,
			Period:         period,
			TotalDeposited: total,
			TimestampMs:    ts,
		}, nil

	default:
		return nil, fmt.Errorf("event %s: unknown kind %q", raw.ID, kind)
	}
}

func requiredString(fields gjson.Result, name string) (string, error) {
	v := fields.Get(name)
	if !v.Exists() || v.String() == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return v.String(), nil
}

func firstString(fields gjson.Result, names ...string) string {
	for _, name := range names {
		if v := fields.Get(name); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func requiredAmount(fields gjson.Result, name string) (decimal.Decimal, error) {
	v := fields.Get(name)
	if !v.Exists() {
		return decimal.Zero, fmt.Errorf("missing %s", name)
	}
	d, err := units.ParseBaseUnits(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func optionalUint(fields gjson.Result, name string) (uint64, error) {
	v := fields.Get(name)
	if !v.Exists() {
		return 0, nil
	}
	n, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func timestamp(fields gjson.Result, envelope int64) (int64, error) {
	for _, name := range []string{"timestamp", "timestamp_ms"} {
		if v := fields.Get(name); v.Exists() {
			n, err := strconv.ParseInt(v.String(), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", name, err)
			}
			return n, nil
		}
	}
	if envelope > 0 {
		return envelope, nil
	}
	return 0, fmt.Errorf("missing timestamp")
}
