package domain

import (
	"time"
)

// Status is the lifecycle state of a dungeon session.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
	StatusEnded  Status = "ENDED"
)

// Health bounds.
const (
	MinHealth = 0
	MaxHealth = 100
)

// PauseReason explains why a paused session is waiting.
type PauseReason string

const (
	PauseReasonNone      PauseReason = ""
	PauseReasonEncounter PauseReason = "encounter"
	PauseReasonDeath     PauseReason = "death"
)

// LogEntry is a single line of the session's adventure log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Session is one owner's dungeon run.
type Session struct {
	ID                string
	OwnerID           string
	Status            Status
	Health            int
	StartTime         time.Time
	EndTime           *time.Time
	NextItemTime      *time.Time
	NextEscapadeTime  time.Time
	NPCEventTriggered bool
	Encounter         *Encounter
	ItemsCollected    []int64
	Logs              []LogEntry
	Version           int64
	UpdatedAt         time.Time
}

// AddLog appends a log entry.
func (s *Session) AddLog(at time.Time, message string) {
	s.Logs = append(s.Logs, LogEntry{Timestamp: at, Message: message})
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool {
	return s.EndTime != nil || s.Status == StatusEnded
}

// PauseReason derives why the session is paused.
// Death takes precedence over a pending encounter.
func (s *Session) PauseReason() PauseReason {
	if s.Status != StatusPaused {
		return PauseReasonNone
	}
	if s.Health <= MinHealth {
		return PauseReasonDeath
	}
	if s.Encounter != nil {
		return PauseReasonEncounter
	}
	return PauseReasonNone
}

// AwaitingChoice returns true if the session is paused on a live encounter.
func (s *Session) AwaitingChoice() bool {
	return s.PauseReason() == PauseReasonEncounter
}

// DeathPaused returns true if the session is paused because health reached zero.
func (s *Session) DeathPaused() bool {
	return s.PauseReason() == PauseReasonDeath
}

// Clone returns a deep copy so callers can stage changes without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.NextItemTime != nil {
		t := *s.NextItemTime
		c.NextItemTime = &t
	}
	if s.Encounter != nil {
		c.Encounter = s.Encounter.Clone()
	}
	c.ItemsCollected = append([]int64(nil), s.ItemsCollected...)
	c.Logs = append([]LogEntry(nil), s.Logs...)
	return &c
}

// ClampHealth bounds h into [MinHealth, MaxHealth].
func ClampHealth(h int) int {
	if h < MinHealth {
		return MinHealth
	}
	if h > MaxHealth {
		return MaxHealth
	}
	return h
}
