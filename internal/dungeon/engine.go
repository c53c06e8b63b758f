// Package dungeon implements the dungeon session state machine.
//
// The Engine is the only component that mutates sessions. Both the background
// sweeper and interactive commands go through it, so a session is always
// advanced by one operation at a time: a keyed mutex serializes work inside
// the process and a version check on every write rejects anything that lost
// a race with another process sharing the database.
package dungeon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/clock"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/random"
	"github.com/ashureev/crawl/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Log lines written by state transitions.
const (
	logEntered = "You entered the dungeon."
	logDied    = "You have died in the dungeon."
)

// SessionStore is the repository surface the engine needs.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	OpenSession(ctx context.Context, ownerID string) (*domain.Session, error)
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// Catalog is the item and NPC catalog surface the engine needs.
type Catalog interface {
	ItemResolver
	ItemByID(id int64) (catalog.Item, bool)
	RandomLoot(src random.Source) (catalog.Item, bool)
	RandomNPC(src random.Source) (catalog.NPC, bool)
	Flavors() catalog.Flavors
}

// EncounterSource produces a two-choice encounter for an NPC. It must not
// fail: implementations absorb generation errors into a fallback encounter.
type EncounterSource interface {
	Generate(ctx context.Context, npc catalog.NPC) domain.Encounter
}

// Config holds the engine's timing.
type Config struct {
	ItemInterval     time.Duration
	EscapadeInterval time.Duration
	EncounterAfter   time.Duration
	// StoreTimeout bounds each repository call. Zero disables the bound.
	StoreTimeout time.Duration
}

// DefaultConfig returns the standard dungeon timings.
func DefaultConfig() Config {
	return Config{
		ItemInterval:     10 * time.Minute,
		EscapadeInterval: 10 * time.Minute,
		EncounterAfter:   6 * time.Minute,
		StoreTimeout:     5 * time.Second,
	}
}

// Engine validates and applies session transitions.
type Engine struct {
	repo        SessionStore
	catalog     Catalog
	encounters  EncounterSource
	escapades   *EscapadeGenerator
	adjudicator *Adjudicator
	clock       clock.Clock
	rnd         random.Source
	cfg         Config
	locks       sessionLocks
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewEngine wires an engine from its ports.
func NewEngine(repo SessionStore, cat Catalog, encounters EncounterSource, clk clock.Clock, rnd random.Source, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		repo:        repo,
		catalog:     cat,
		encounters:  encounters,
		escapades:   NewEscapadeGenerator(cat.Flavors(), rnd),
		adjudicator: NewAdjudicator(cat, logger),
		clock:       clk,
		rnd:         rnd,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/ashureev/crawl/internal/dungeon"),
	}
}

// TickResult reports what one tick did.
type TickResult struct {
	Session          *domain.Session
	Changed          bool
	Loot             *catalog.Item
	EncounterStarted bool
	Escapade         *Escapade
	Died             bool
}

// ChoiceResult reports a resolved encounter choice.
type ChoiceResult struct {
	Session *domain.Session
	Choice  domain.Choice
	Award   Award
	Died    bool
}

// StopResult reports how a session ended.
type StopResult struct {
	Session   *domain.Session
	Committed []int64
	Forfeited []int64
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// Start creates a new ACTIVE session for the owner.
// Returns ErrConflict if the owner already has an ACTIVE or PAUSED session.
func (e *Engine) Start(ctx context.Context, ownerID string) (*domain.Session, error) {
	dbCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	existing, err := e.repo.OpenSession(dbCtx, ownerID)
	if err != nil {
		return nil, persistErr("load open session", err)
	}
	if existing != nil {
		return nil, ErrConflict
	}

	now := e.clock.Now()
	nextItem := now.Add(e.cfg.ItemInterval)
	s := &domain.Session{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Status:           domain.StatusActive,
		Health:           domain.MaxHealth,
		StartTime:        now,
		NextItemTime:     &nextItem,
		NextEscapadeTime: now.Add(e.cfg.EscapadeInterval),
		ItemsCollected:   []int64{},
	}
	s.AddLog(now, logEntered)

	if err := e.repo.CreateSession(dbCtx, s); err != nil {
		if errors.Is(err, store.ErrActiveSessionExists) {
			return nil, ErrConflict
		}
		return nil, persistErr("create session", err)
	}

	e.logger.Info("Dungeon session started", "session_id", s.ID, "owner_id", ownerID)
	return s, nil
}

// Tick advances an ACTIVE session by elapsed time. Evaluation order is fixed:
// item reward, one-shot NPC encounter, escapade, health gate. All effects are
// persisted in a single versioned write; if nothing was due nothing is written.
//
// Tick never waits for the session: if another operation holds it, Tick
// returns ErrSessionBusy and the next sweep picks it up.
func (e *Engine) Tick(ctx context.Context, sessionID string) (result TickResult, err error) {
	ctx, span := e.tracer.Start(ctx, "dungeon.Tick", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer func() {
		if err != nil && !errors.Is(err, ErrSessionBusy) && !errors.Is(err, ErrNotActive) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("session.changed", result.Changed))
		span.End()
	}()

	mu := e.locks.get(sessionID)
	if !mu.TryLock() {
		return TickResult{}, ErrSessionBusy
	}
	defer mu.Unlock()

	current, err := e.load(ctx, sessionID)
	if err != nil {
		return TickResult{}, err
	}
	if current.Status != domain.StatusActive || current.Ended() {
		return TickResult{Session: current}, ErrNotActive
	}

	now := e.clock.Now()
	work := current.Clone()
	result = TickResult{Session: current}
	var triggers []string

	if work.NextItemTime != nil && !now.Before(*work.NextItemTime) {
		triggers = append(triggers, lootTrigger(*work.NextItemTime))
		if item, ok := e.catalog.RandomLoot(e.rnd); ok {
			e.adjudicator.StageLoot(work, item, now)
			result.Loot = &item
		}
		next := now.Add(e.cfg.ItemInterval)
		work.NextItemTime = &next
		result.Changed = true
	}

	if !work.NPCEventTriggered && now.Sub(work.StartTime) >= e.cfg.EncounterAfter {
		if npc, ok := e.catalog.RandomNPC(e.rnd); ok {
			encounter := e.encounters.Generate(ctx, npc)
			work.Encounter = &encounter
			work.NPCEventTriggered = true
			work.Status = domain.StatusPaused
			work.AddLog(now, fmt.Sprintf("Encountered NPC: %s - %s", npc.Name, npc.Description))
			result.EncounterStarted = true
			result.Changed = true
		}
	}

	if !now.Before(work.NextEscapadeTime) {
		esc := e.escapades.Run(work, now)
		result.Escapade = &esc
		work.NextEscapadeTime = now.Add(e.cfg.EscapadeInterval)
		result.Changed = true
	}

	if applyHealthGate(work, now) {
		result.Died = true
		result.EncounterStarted = false
		result.Changed = true
	}

	if !result.Changed {
		return result, nil
	}

	if err := e.commit(ctx, work, "save tick", func(tx store.Tx) error {
		for _, trigger := range triggers {
			if err := e.adjudicator.Claim(ctx, tx, work.ID, trigger, now); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return TickResult{Session: current}, err
	}

	result.Session = work
	e.logger.Debug("Dungeon session advanced",
		"session_id", work.ID,
		"health", work.Health,
		"status", work.Status,
		"encounter", result.EncounterStarted,
		"died", result.Died)
	return result, nil
}

// applyHealthGate pauses a session whose health reached zero. A pending
// encounter is dropped since death takes precedence. Returns true if the
// session died on this call.
func applyHealthGate(s *domain.Session, now time.Time) bool {
	if s.Health > domain.MinHealth {
		return false
	}
	if s.Status == domain.StatusPaused && s.Encounter == nil {
		// Already death-paused.
		return false
	}
	s.Health = domain.MinHealth
	s.Encounter = nil
	s.Status = domain.StatusPaused
	s.AddLog(now, logDied)
	return true
}

// ResolveChoice applies the owner's answer to the pending encounter and
// resumes the session. An out-of-range index changes nothing.
func (e *Engine) ResolveChoice(ctx context.Context, ownerID string, index int) (ChoiceResult, error) {
	unlock, current, err := e.lockOpen(ctx, ownerID)
	if err != nil {
		return ChoiceResult{}, err
	}
	defer unlock()

	if !current.AwaitingChoice() {
		return ChoiceResult{Session: current}, ErrNoPausedSession
	}
	if index < 0 || index >= len(current.Encounter.Choices) {
		return ChoiceResult{Session: current}, ErrInvalidChoice
	}

	now := e.clock.Now()
	work := current.Clone()
	choice := work.Encounter.Choices[index]
	var award Award

	err = e.commit(ctx, work, "save choice", func(tx store.Tx) error {
		var err error
		award, err = e.adjudicator.ApplyChoice(ctx, tx, work, Deltas{
			Trigger:        choiceTrigger(work.Encounter.ID),
			HealthChange:   choice.HealthChange,
			CurrencyChange: choice.CurrencyChange,
			Items:          choice.Items,
		}, now)
		if err != nil {
			return err
		}

		work.AddLog(now, fmt.Sprintf("You chose: %s. %s", choice.Text, choice.Consequence))
		work.Encounter = nil
		work.Status = domain.StatusActive
		nextItem := now.Add(e.cfg.ItemInterval)
		work.NextItemTime = &nextItem
		work.NextEscapadeTime = now.Add(e.cfg.EscapadeInterval)
		applyHealthGate(work, now)
		return nil
	})
	if err != nil {
		return ChoiceResult{Session: current}, err
	}

	e.logger.Info("Encounter choice resolved",
		"session_id", work.ID,
		"owner_id", ownerID,
		"index", index,
		"health", work.Health,
		"currency", award.Currency)
	return ChoiceResult{Session: work, Choice: choice, Award: award, Died: work.DeathPaused()}, nil
}

// Stop ends the owner's session. Collected items are committed to the
// owner's inventory unless the session is death-paused, in which case they
// are forfeited. Stop waits for an in-flight tick on the same session.
func (e *Engine) Stop(ctx context.Context, ownerID string) (StopResult, error) {
	unlock, current, err := e.lockOpen(ctx, ownerID)
	if err != nil {
		return StopResult{}, err
	}
	defer unlock()

	now := e.clock.Now()
	work := current.Clone()
	forfeit := work.DeathPaused()
	var result StopResult

	err = e.commit(ctx, work, "end session", func(tx store.Tx) error {
		if forfeit {
			result.Forfeited = append([]int64(nil), work.ItemsCollected...)
			work.AddLog(now, fmt.Sprintf("Your body is dragged from the dungeon. %d items were lost.", len(work.ItemsCollected)))
		} else {
			committed, err := e.adjudicator.Extract(ctx, tx, work, now)
			if err != nil {
				return err
			}
			result.Committed = committed
			work.AddLog(now, fmt.Sprintf("You left the dungeon with %d items.", len(committed)))
		}
		work.EndTime = &now
		work.Status = domain.StatusEnded
		work.Encounter = nil
		return nil
	})
	if err != nil {
		return StopResult{Session: current}, err
	}
	e.locks.forget(work.ID)

	result.Session = work
	e.logger.Info("Dungeon session ended",
		"session_id", work.ID,
		"owner_id", ownerID,
		"committed", len(result.Committed),
		"forfeited", len(result.Forfeited))
	return result, nil
}

// Snapshot returns the owner's current view, or an empty view if there is no open session.
func (e *Engine) Snapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	dbCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.repo.OpenSession(dbCtx, ownerID)
	if err != nil {
		return Snapshot{}, persistErr("load open session", err)
	}
	return NewSnapshot(e.catalog, s), nil
}

// SessionSnapshot returns the view of a session by ID, open or not.
func (e *Engine) SessionSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	dbCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.repo.GetSession(dbCtx, sessionID)
	if err != nil {
		return Snapshot{}, persistErr("load session", err)
	}
	if s == nil {
		return Snapshot{}, ErrNoSession
	}
	return NewSnapshot(e.catalog, s), nil
}

// lockOpen finds the owner's open session, takes its lock and re-reads it so
// the caller sees whatever a tick that held the lock just wrote.
func (e *Engine) lockOpen(ctx context.Context, ownerID string) (func(), *domain.Session, error) {
	dbCtx, cancel := e.storeCtx(ctx)
	open, err := e.repo.OpenSession(dbCtx, ownerID)
	cancel()
	if err != nil {
		return nil, nil, persistErr("load open session", err)
	}
	if open == nil {
		return nil, nil, ErrNoSession
	}

	mu := e.locks.get(open.ID)
	mu.Lock()

	current, err := e.load(ctx, open.ID)
	if err != nil {
		mu.Unlock()
		return nil, nil, err
	}
	if current.Ended() {
		mu.Unlock()
		return nil, nil, ErrNoSession
	}
	return mu.Unlock, current, nil
}

func (e *Engine) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	dbCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.repo.GetSession(dbCtx, sessionID)
	if err != nil {
		return nil, persistErr("load session", err)
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// commit runs apply and the versioned session write in one transaction.
// work is only mutated inside apply, so on failure the caller discards it.
func (e *Engine) commit(ctx context.Context, work *domain.Session, op string, apply func(tx store.Tx) error) error {
	dbCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	err := e.repo.WithTx(dbCtx, func(tx store.Tx) error {
		if err := apply(tx); err != nil {
			return err
		}
		return tx.SaveSession(dbCtx, work)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVersionConflict):
		return ErrStaleSession
	case errors.Is(err, ErrStaleSession):
		return err
	default:
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return err
		}
		return persistErr(op, err)
	}
}
