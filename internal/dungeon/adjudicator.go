package dungeon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/store"
)

// Ledger is the transactional write surface the adjudicator needs.
// store.Tx implements it.
type Ledger interface {
	MarkApplied(ctx context.Context, sessionID, trigger string, at time.Time) (bool, error)
	GrantItem(ctx context.Context, grant store.Grant) error
	CreditCurrency(ctx context.Context, ownerID string, amount int64) (int64, error)
}

// ItemResolver maps item names to catalog entries.
type ItemResolver interface {
	FindItemByName(name string) (catalog.Item, bool)
}

// Deltas are the effects of one reward trigger.
type Deltas struct {
	Trigger        string
	HealthChange   int
	CurrencyChange int
	Items          []string
}

// Award reports what ApplyChoice changed.
type Award struct {
	HealthBefore int
	HealthAfter  int
	Currency     int64
	Balance      int64
	Granted      []catalog.Item
	Unknown      []string
}

// Trigger keys for the idempotency ledger.
const triggerExtract = "extract"

func lootTrigger(due time.Time) string {
	return fmt.Sprintf("loot:%d", due.UnixMilli())
}

func choiceTrigger(encounterID string) string {
	return "choice:" + encounterID
}

// Adjudicator applies health, currency and item deltas. Every application
// is keyed by a trigger and recorded in the ledger so a replay is rejected.
type Adjudicator struct {
	items  ItemResolver
	logger *slog.Logger
}

// NewAdjudicator creates an adjudicator resolving item names against items.
func NewAdjudicator(items ItemResolver, logger *slog.Logger) *Adjudicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjudicator{items: items, logger: logger}
}

// Claim records trigger for the session. Returns ErrStaleSession if it was already applied.
func (a *Adjudicator) Claim(ctx context.Context, l Ledger, sessionID, trigger string, now time.Time) error {
	applied, err := l.MarkApplied(ctx, sessionID, trigger, now)
	if err != nil {
		return persistErr("claim trigger", err)
	}
	if !applied {
		a.logger.Debug("Reward trigger already applied", "session_id", sessionID, "trigger", trigger)
		return ErrStaleSession
	}
	return nil
}

// ApplyChoice applies an encounter choice. Health is clamped on the session,
// currency is credited without a floor and resolved items are granted to the
// owner's inventory immediately.
func (a *Adjudicator) ApplyChoice(ctx context.Context, l Ledger, s *domain.Session, d Deltas, now time.Time) (Award, error) {
	if err := a.Claim(ctx, l, s.ID, d.Trigger, now); err != nil {
		return Award{}, err
	}

	award := Award{HealthBefore: s.Health, Currency: int64(d.CurrencyChange)}
	s.Health = domain.ClampHealth(s.Health + d.HealthChange)
	award.HealthAfter = s.Health

	if d.CurrencyChange != 0 {
		balance, err := l.CreditCurrency(ctx, s.OwnerID, int64(d.CurrencyChange))
		if err != nil {
			return Award{}, persistErr("credit currency", err)
		}
		award.Balance = balance
	}

	for _, name := range d.Items {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		item, ok := a.items.FindItemByName(name)
		if !ok {
			a.logger.Warn("Encounter granted unknown item", "session_id", s.ID, "item", name)
			award.Unknown = append(award.Unknown, name)
			s.AddLog(now, fmt.Sprintf("The %s crumbles to dust before you can take it.", name))
			continue
		}
		if err := l.GrantItem(ctx, store.Grant{
			OwnerID:   s.OwnerID,
			ItemID:    item.ID,
			Source:    domain.GrantSourceChoice,
			SessionID: s.ID,
			At:        now,
		}); err != nil {
			return Award{}, persistErr("grant item", err)
		}
		award.Granted = append(award.Granted, item)
		s.AddLog(now, fmt.Sprintf("Received item: %s", item.Name))
	}

	return award, nil
}

// StageLoot adds tick-originated loot to the session. It only becomes
// permanent if the session is later extracted.
func (a *Adjudicator) StageLoot(s *domain.Session, item catalog.Item, now time.Time) {
	s.ItemsCollected = append(s.ItemsCollected, item.ID)
	s.AddLog(now, fmt.Sprintf("Collected item: %s (%s, %s)", item.Name, item.Category, item.Rarity))
}

// Extract commits the session's collected items to the owner's inventory.
func (a *Adjudicator) Extract(ctx context.Context, l Ledger, s *domain.Session, now time.Time) ([]int64, error) {
	if err := a.Claim(ctx, l, s.ID, triggerExtract, now); err != nil {
		return nil, err
	}
	for _, id := range s.ItemsCollected {
		if err := l.GrantItem(ctx, store.Grant{
			OwnerID:   s.OwnerID,
			ItemID:    id,
			Source:    domain.GrantSourceExtraction,
			SessionID: s.ID,
			At:        now,
		}); err != nil {
			return nil, persistErr("extract item", err)
		}
	}
	return append([]int64(nil), s.ItemsCollected...), nil
}
