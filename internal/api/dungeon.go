package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/identity"
	"github.com/ashureev/crawl/internal/play"
	"github.com/go-chi/chi/v5"
)

// Commands is the interactive handler behind the dungeon routes.
type Commands interface {
	StartDungeon(ctx context.Context, ownerID string) play.Result
	StopDungeon(ctx context.Context, ownerID string) play.Result
	SubmitChoice(ctx context.Context, ownerID string, index int) play.Result
	GetSnapshot(ctx context.Context, ownerID string) (dungeon.Snapshot, error)
}

// Accounts reads the owner's permanent holdings.
type Accounts interface {
	GetAccount(ctx context.Context, ownerID string) (*domain.Account, error)
	OwnedItems(ctx context.Context, ownerID string) ([]int64, error)
}

// DungeonHandler serves dungeon commands and the player's account.
type DungeonHandler struct {
	commands Commands
	accounts Accounts
	items    dungeon.ItemLookup
}

// NewDungeonHandler creates a DungeonHandler.
func NewDungeonHandler(commands Commands, accounts Accounts, items dungeon.ItemLookup) *DungeonHandler {
	return &DungeonHandler{commands: commands, accounts: accounts, items: items}
}

// RegisterRoutes registers dungeon and account routes.
func (h *DungeonHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/dungeon", h.GetDungeon)
		r.Post("/dungeon/start", h.Start)
		r.Post("/dungeon/stop", h.Stop)
		r.Post("/dungeon/choice", h.Choice)
	})
}

// StatusFor maps a command outcome to its HTTP status.
func StatusFor(o play.Outcome) int {
	switch o {
	case play.OutcomeStarted:
		return http.StatusCreated
	case play.OutcomeStopped, play.OutcomeApplied:
		return http.StatusOK
	case play.OutcomeAlreadyActive, play.OutcomeNoPausedSession:
		return http.StatusConflict
	case play.OutcomeNoSession:
		return http.StatusNotFound
	case play.OutcomeInvalidIndex:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *DungeonHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func writeResult(w http.ResponseWriter, res play.Result) {
	JSON(w, StatusFor(res.Outcome), res)
}

// GetDungeon returns the caller's current session view.
func (h *DungeonHandler) GetDungeon(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}
	snap, err := h.commands.GetSnapshot(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Start opens a dungeon session for the caller.
func (h *DungeonHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}
	writeResult(w, h.commands.StartDungeon(r.Context(), userID))
}

// Stop ends the caller's session.
func (h *DungeonHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}
	writeResult(w, h.commands.StopDungeon(r.Context(), userID))
}

type choiceRequest struct {
	Index *int `json:"index"`
}

// Choice answers the caller's pending encounter.
func (h *DungeonHandler) Choice(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req choiceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Index == nil {
		Error(w, http.StatusBadRequest, "body must be {\"index\": n}")
		return
	}
	writeResult(w, h.commands.SubmitChoice(r.Context(), userID, *req.Index))
}

// GetMe returns the caller's account and permanent inventory.
func (h *DungeonHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	account, err := h.accounts.GetAccount(ctx, userID)
	if err != nil {
		slog.Error("Failed to load account", "error", err, "owner_id", userID)
		Error(w, http.StatusServiceUnavailable, play.MsgUnavailable)
		return
	}
	if account == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	ids, err := h.accounts.OwnedItems(ctx, userID)
	if err != nil {
		slog.Error("Failed to load inventory", "error", err, "owner_id", userID)
		Error(w, http.StatusServiceUnavailable, play.MsgUnavailable)
		return
	}
	items := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := h.items.ItemByID(id); ok {
			items = append(items, item)
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  account.OwnerID,
		"username": account.Username,
		"balance":  account.Balance,
		"items":    items,
	})
}
