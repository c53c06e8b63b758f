package domain

import (
	"testing"
	"time"
)

func TestClampHealth(t *testing.T) {
	tests := map[int]int{-50: 0, -1: 0, 0: 0, 42: 42, 100: 100, 101: 100, 1 << 20: 100}
	for in, want := range tests {
		if got := ClampHealth(in); got != want {
			t.Errorf("ClampHealth(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPauseReason(t *testing.T) {
	enc := &Encounter{ID: "e1", Choices: make([]Choice, EncounterChoices)}
	tests := []struct {
		name    string
		session Session
		want    PauseReason
	}{
		{name: "active", session: Session{Status: StatusActive, Health: 50}, want: PauseReasonNone},
		{name: "active with zero health", session: Session{Status: StatusActive, Health: 0}, want: PauseReasonNone},
		{name: "encounter", session: Session{Status: StatusPaused, Health: 50, Encounter: enc}, want: PauseReasonEncounter},
		{name: "death", session: Session{Status: StatusPaused, Health: 0}, want: PauseReasonDeath},
		{name: "death beats encounter", session: Session{Status: StatusPaused, Health: 0, Encounter: enc}, want: PauseReasonDeath},
		{name: "ended", session: Session{Status: StatusEnded, Health: 0}, want: PauseReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.PauseReason(); got != tt.want {
				t.Errorf("PauseReason() = %q, want %q", got, tt.want)
			}
			if tt.session.AwaitingChoice() != (tt.want == PauseReasonEncounter) {
				t.Error("AwaitingChoice disagrees with PauseReason")
			}
			if tt.session.DeathPaused() != (tt.want == PauseReasonDeath) {
				t.Error("DeathPaused disagrees with PauseReason")
			}
		})
	}
}

func TestEnded(t *testing.T) {
	now := time.Now()
	if (&Session{Status: StatusActive}).Ended() {
		t.Error("active session reported ended")
	}
	if !(&Session{Status: StatusEnded}).Ended() {
		t.Error("ENDED status not reported")
	}
	if !(&Session{Status: StatusPaused, EndTime: &now}).Ended() {
		t.Error("end_time not reported")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := now.Add(time.Minute)
	orig := &Session{
		ID:             "s1",
		Status:         StatusPaused,
		Health:         70,
		EndTime:        &now,
		NextItemTime:   &next,
		ItemsCollected: []int64{1, 2},
		Encounter: &Encounter{
			ID:      "e1",
			Choices: []Choice{{Text: "a", Items: []string{"Buckler"}}, {Text: "b"}},
		},
	}
	orig.AddLog(now, "You entered the dungeon.")

	c := orig.Clone()
	c.ItemsCollected[0] = 99
	c.ItemsCollected = append(c.ItemsCollected, 3)
	c.AddLog(now, "changed")
	c.Logs[0].Message = "rewritten"
	c.Encounter.Choices[0].Items[0] = "Tower Shield"
	c.Encounter.Choices[1].Text = "z"
	*c.NextItemTime = now
	*c.EndTime = next

	if orig.ItemsCollected[0] != 1 || len(orig.ItemsCollected) != 2 {
		t.Errorf("items leaked: %v", orig.ItemsCollected)
	}
	if len(orig.Logs) != 1 || orig.Logs[0].Message != "You entered the dungeon." {
		t.Errorf("logs leaked: %v", orig.Logs)
	}
	if orig.Encounter.Choices[0].Items[0] != "Buckler" || orig.Encounter.Choices[1].Text != "b" {
		t.Errorf("encounter leaked: %+v", orig.Encounter)
	}
	if !orig.NextItemTime.Equal(next) || !orig.EndTime.Equal(now) {
		t.Error("timestamps leaked")
	}
}
