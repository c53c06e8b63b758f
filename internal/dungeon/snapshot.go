package dungeon

import (
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
)

// ItemLookup resolves catalog IDs.
type ItemLookup interface {
	ItemByID(id int64) (catalog.Item, bool)
}

// Snapshot is the read-only view of a session handed to clients.
type Snapshot struct {
	SessionID   string             `json:"session_id,omitempty"`
	InDungeon   bool               `json:"in_dungeon"`
	Status      domain.Status      `json:"status,omitempty"`
	Health      int                `json:"health"`
	Paused      bool               `json:"paused"`
	PauseReason domain.PauseReason `json:"pause_reason,omitempty"`
	Encounter   *domain.Encounter  `json:"encounter,omitempty"`
	Items       []catalog.Item     `json:"items"`
	Logs        []domain.LogEntry  `json:"logs"`
	StartTime   *time.Time         `json:"start_time,omitempty"`
	EndTime     *time.Time         `json:"end_time,omitempty"`
}

// NewSnapshot builds the view of s. A nil session yields the empty view.
// Item IDs missing from the catalog are left out.
func NewSnapshot(items ItemLookup, s *domain.Session) Snapshot {
	if s == nil {
		return Snapshot{Items: []catalog.Item{}, Logs: []domain.LogEntry{}}
	}

	view := Snapshot{
		SessionID:   s.ID,
		InDungeon:   !s.Ended(),
		Status:      s.Status,
		Health:      s.Health,
		Paused:      s.Status == domain.StatusPaused,
		PauseReason: s.PauseReason(),
		Items:       make([]catalog.Item, 0, len(s.ItemsCollected)),
		Logs:        append([]domain.LogEntry{}, s.Logs...),
	}
	start := s.StartTime
	view.StartTime = &start
	if s.EndTime != nil {
		end := *s.EndTime
		view.EndTime = &end
	}
	if s.AwaitingChoice() {
		view.Encounter = s.Encounter.Clone()
	}
	for _, id := range s.ItemsCollected {
		if item, ok := items.ItemByID(id); ok {
			view.Items = append(view.Items, item)
		}
	}
	return view
}
