// Package play serves user commands against a dungeon session and turns the
// engine's errors into typed outcomes with user-facing messages.
package play

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/shared"
)

// Outcome is the typed result of a user command.
type Outcome string

const (
	OutcomeStarted         Outcome = "started"
	OutcomeAlreadyActive   Outcome = "already_active"
	OutcomeStopped         Outcome = "stopped"
	OutcomeNoSession       Outcome = "no_session"
	OutcomeApplied         Outcome = "applied"
	OutcomeNoPausedSession Outcome = "no_paused_session"
	OutcomeInvalidIndex    Outcome = "invalid_index"
	OutcomeUnavailable     Outcome = "unavailable"
)

// User-facing messages.
const (
	MsgAlreadyActive = "already in a dungeon"
	MsgNoSession     = "no active session"
	MsgNotPaused     = "nothing to choose right now"
	MsgInvalidChoice = "invalid choice"
	MsgUnavailable   = "temporarily unavailable, try again"
)

// ErrUnavailable hides persistence failures from callers of GetSnapshot.
var ErrUnavailable = errors.New(MsgUnavailable)

// Engine is the subset of dungeon.Engine the service drives.
type Engine interface {
	Start(ctx context.Context, ownerID string) (*domain.Session, error)
	Stop(ctx context.Context, ownerID string) (dungeon.StopResult, error)
	ResolveChoice(ctx context.Context, ownerID string, index int) (dungeon.ChoiceResult, error)
	Snapshot(ctx context.Context, ownerID string) (dungeon.Snapshot, error)
	SessionSnapshot(ctx context.Context, sessionID string) (dungeon.Snapshot, error)
}

// Result is the response to one command. Snapshot reflects the owner's view
// after the command and is empty when it could not be read.
type Result struct {
	Outcome  Outcome          `json:"outcome"`
	Message  string           `json:"message,omitempty"`
	Snapshot dungeon.Snapshot `json:"snapshot"`
}

// OK reports whether the command took effect.
func (r Result) OK() bool {
	switch r.Outcome {
	case OutcomeStarted, OutcomeStopped, OutcomeApplied:
		return true
	default:
		return false
	}
}

// Service is the interactive handler shared by the HTTP and WebSocket fronts.
type Service struct {
	engine Engine
	retry  shared.RetryPolicy
	logger *slog.Logger
}

// NewService creates a Service. A zero retry policy means a single attempt.
func NewService(engine Engine, retry shared.RetryPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, retry: retry, logger: logger}
}

func retryable(err error) bool {
	return shared.IsSQLiteConflictError(err) || errors.Is(err, dungeon.ErrStaleSession)
}

func (s *Service) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return shared.Retry(ctx, s.retry, retryable, op, fn)
}

// StartDungeon opens a new session for the owner.
func (s *Service) StartDungeon(ctx context.Context, ownerID string) Result {
	err := s.do(ctx, "start dungeon", func(ctx context.Context) error {
		_, err := s.engine.Start(ctx, ownerID)
		return err
	})
	switch {
	case err == nil:
		return s.withSnapshot(ctx, ownerID, Result{Outcome: OutcomeStarted})
	case errors.Is(err, dungeon.ErrConflict):
		return s.withSnapshot(ctx, ownerID, Result{Outcome: OutcomeAlreadyActive, Message: MsgAlreadyActive})
	default:
		return s.unavailable("start", ownerID, err)
	}
}

// StopDungeon ends the owner's session, committing or forfeiting its loot.
func (s *Service) StopDungeon(ctx context.Context, ownerID string) Result {
	var res dungeon.StopResult
	err := s.do(ctx, "stop dungeon", func(ctx context.Context) error {
		var err error
		res, err = s.engine.Stop(ctx, ownerID)
		return err
	})
	switch {
	case err == nil:
		out := Result{Outcome: OutcomeStopped}
		if res.Session == nil {
			return out
		}
		// The owner has no open session any more, so show the ended one.
		snap, err := s.engine.SessionSnapshot(ctx, res.Session.ID)
		if err != nil {
			s.logger.Warn("Failed to attach final snapshot", "session_id", res.Session.ID, "error", err)
			return out
		}
		out.Snapshot = snap
		return out
	case errors.Is(err, dungeon.ErrNoSession):
		return Result{Outcome: OutcomeNoSession, Message: MsgNoSession}
	default:
		return s.unavailable("stop", ownerID, err)
	}
}

// SubmitChoice answers the owner's pending encounter.
func (s *Service) SubmitChoice(ctx context.Context, ownerID string, index int) Result {
	err := s.do(ctx, "submit choice", func(ctx context.Context) error {
		_, err := s.engine.ResolveChoice(ctx, ownerID, index)
		return err
	})
	switch {
	case err == nil:
		return s.withSnapshot(ctx, ownerID, Result{Outcome: OutcomeApplied})
	case errors.Is(err, dungeon.ErrNoSession):
		return Result{Outcome: OutcomeNoPausedSession, Message: MsgNoSession}
	case errors.Is(err, dungeon.ErrNoPausedSession):
		return s.withSnapshot(ctx, ownerID, Result{Outcome: OutcomeNoPausedSession, Message: MsgNotPaused})
	case errors.Is(err, dungeon.ErrInvalidChoice):
		return s.withSnapshot(ctx, ownerID, Result{Outcome: OutcomeInvalidIndex, Message: MsgInvalidChoice})
	default:
		return s.unavailable("choice", ownerID, err)
	}
}

// GetSnapshot returns the owner's current view. An owner without a session
// gets the empty view.
func (s *Service) GetSnapshot(ctx context.Context, ownerID string) (dungeon.Snapshot, error) {
	var snap dungeon.Snapshot
	err := s.do(ctx, "get snapshot", func(ctx context.Context) error {
		var err error
		snap, err = s.engine.Snapshot(ctx, ownerID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to read dungeon snapshot", "owner_id", ownerID, "error", err)
		return dungeon.Snapshot{}, ErrUnavailable
	}
	return snap, nil
}

func (s *Service) withSnapshot(ctx context.Context, ownerID string, r Result) Result {
	snap, err := s.engine.Snapshot(ctx, ownerID)
	if err != nil {
		s.logger.Warn("Failed to attach snapshot", "owner_id", ownerID, "outcome", r.Outcome, "error", err)
		return r
	}
	r.Snapshot = snap
	return r
}

func (s *Service) unavailable(op, ownerID string, err error) Result {
	s.logger.Error("Dungeon command failed", "op", op, "owner_id", ownerID, "error", err)
	return Result{Outcome: OutcomeUnavailable, Message: MsgUnavailable}
}
