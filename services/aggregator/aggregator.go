// Package aggregator reconstructs room and user views from the contract's
// event log. Nothing here is cached: every read re-folds the events the
// ledger returns, so two reads may differ if events land in between.
package aggregator

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
)

const (
	// DefaultModule is the contract module that emits room events.
	DefaultModule = "savings"
	// DefaultMaxEvents bounds each event query.
	DefaultMaxEvents = 500
)

// Ledger is the subset of the ledger gateway the aggregator reads.
type Ledger interface {
	QueryAllEvents(ctx context.Context, eventType string, max int) ([]chain.RawEvent, error)
	GetObject(ctx context.Context, id string) (*chain.Object, error)
}

// Config configures the aggregator.
type Config struct {
	Ledger    Ledger
	PackageID string
	Module    string
	MaxEvents int
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Service folds ledger events into aggregates.
type Service struct {
	ledger    Ledger
	packageID string
	module    string
	maxEvents int
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// New creates an aggregator.
func New(cfg Config) *Service {
	module := cfg.Module
	if module == "" {
		module = DefaultModule
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		ledger:    cfg.Ledger,
		packageID: cfg.PackageID,
		module:    module,
		maxEvents: maxEvents,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// =============================================================================
// Event retrieval
// =============================================================================

// eventSet is one logical snapshot of the two event streams.
type eventSet struct {
	joins    []chain.PlayerJoined
	deposits []chain.DepositMade
}

// fetch queries joins and deposits concurrently. A failed query contributes
// an empty set.
func (s *Service) fetch(ctx context.Context) eventSet {
	var (
		wg       sync.WaitGroup
		joins    []chain.Event
		deposits []chain.Event
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		joins = s.query(ctx, chain.KindPlayerJoined)
	}()
	go func() {
		defer wg.Done()
		deposits = s.query(ctx, chain.KindDepositMade)
	}()
	wg.Wait()

	var set eventSet
	for _, ev := range joins {
		if j, ok := ev.(chain.PlayerJoined); ok {
			set.joins = append(set.joins, j)
		}
	}
	for _, ev := range deposits {
		if d, ok := ev.(chain.DepositMade); ok {
			set.deposits = append(set.deposits, d)
		}
	}
	return set
}

func (s *Service) fetchJoins(ctx context.Context) []chain.PlayerJoined {
	var joins []chain.PlayerJoined
	for _, ev := range s.query(ctx, chain.KindPlayerJoined) {
		if j, ok := ev.(chain.PlayerJoined); ok {
			joins = append(joins, j)
		}
	}
	return joins
}

// query returns the parsed, deduplicated events of one kind.
func (s *Service) query(ctx context.Context, kind chain.EventKind) []chain.Event {
	eventType := chain.EventType(s.packageID, s.module, kind)
	raws, err := s.ledger.QueryAllEvents(ctx, eventType, s.maxEvents)
	if err != nil {
		s.metrics.RecordAggregationFailure(string(kind))
		s.logger.Warn(ctx, "event query failed; continuing without these events", map[string]interface{}{
			"event_kind": string(kind),
			"error":      err.Error(),
		})
		return nil
	}

	seen := make(map[chain.EventID]struct{}, len(raws))
	out := make([]chain.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := chain.ParseEvent(raw)
		if err != nil {
			s.metrics.RecordDroppedEvent(string(kind))
			s.logger.Warn(ctx, "dropping malformed event", map[string]interface{}{
				"event_kind": string(kind),
				"event_id":   raw.ID.String(),
				"error":      err.Error(),
			})
			continue
		}
		if ev.Kind() != kind {
			continue
		}
		if _, dup := seen[ev.Key()]; dup {
			continue
		}
		seen[ev.Key()] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

func sumAmounts(set eventSet, roomID string) decimal.Decimal {
	total := decimal.Zero
	for _, j := range set.joins {
		if sameAddress(j.RoomID, roomID) {
			total = total.Add(j.Amount)
		}
	}
	for _, d := range set.deposits {
		if sameAddress(d.RoomID, roomID) {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func normalize(addr string) string {
	return strings.ToLower(addr)
}
