package narrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/google/uuid"
)

// Bounds applied to generated choices.
const (
	maxHealthChange   = 100
	maxCurrencyChange = 1000
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 8 * time.Second

// Generator turns NPC templates into encounters. Generate never fails.
type Generator struct {
	strategy Strategy
	timeout  time.Duration
	logger   *slog.Logger
	newID    func() string
}

// NewGenerator wraps strategy. A nil strategy always yields the fallback encounter.
func NewGenerator(strategy Strategy, timeout time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		strategy = Static{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{strategy: strategy, timeout: timeout, logger: logger, newID: uuid.NewString}
}

// Generate asks the strategy for an encounter and validates it. Any error,
// timeout or malformed draft yields the fallback encounter.
func (g *Generator) Generate(ctx context.Context, npc catalog.NPC) domain.Encounter {
	draft, err := g.draft(ctx, npc)
	if err == nil {
		var enc domain.Encounter
		if enc, err = Normalize(npc, draft); err == nil {
			enc.ID = g.newID()
			return enc
		}
		err = &ExternalServiceError{Strategy: g.strategy.Name(), Err: err}
	}

	g.logger.Warn("Encounter generation failed, using fallback",
		"strategy", g.strategy.Name(),
		"npc", npc.Name,
		"error", err)
	enc := Fallback(npc)
	enc.ID = g.newID()
	return enc
}

// draft runs the strategy in its own goroutine so a strategy that ignores
// its context still cannot hold the caller past the timeout.
func (g *Generator) draft(ctx context.Context, npc catalog.NPC) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		draft Draft
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("strategy panicked: %v", r)}
			}
		}()
		d, err := g.strategy.GenerateEncounter(ctx, Request{NPC: npc})
		done <- result{draft: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Draft{}, &ExternalServiceError{Strategy: g.strategy.Name(), Err: r.err}
		}
		return r.draft, nil
	case <-ctx.Done():
		return Draft{}, &ExternalServiceError{Strategy: g.strategy.Name(), Err: ctx.Err()}
	}
}

// Normalize validates a draft and fills in defaults. A draft without exactly
// two choices is rejected.
func Normalize(npc catalog.NPC, d Draft) (domain.Encounter, error) {
	if len(d.Choices) != domain.EncounterChoices {
		return domain.Encounter{}, fmt.Errorf("%w: got %d choices, want %d", ErrMalformedDraft, len(d.Choices), domain.EncounterChoices)
	}

	enc := domain.Encounter{
		NPC:      domain.NPC{Name: npc.Name, Description: npc.Description},
		Dialogue: strings.TrimSpace(d.Dialogue),
		Choices:  make([]domain.Choice, 0, len(d.Choices)),
	}
	if enc.Dialogue == "" {
		enc.Dialogue = npc.Name + " regards you silently."
	}

	for i, c := range d.Choices {
		choice := domain.Choice{
			Text:           strings.TrimSpace(c.Text),
			HealthChange:   clamp(c.HealthChange, maxHealthChange),
			CurrencyChange: clamp(c.CurrencyChange, maxCurrencyChange),
			Consequence:    strings.TrimSpace(c.Consequence),
		}
		if choice.Text == "" {
			choice.Text = fmt.Sprintf("Choice %d", i+1)
		}
		if choice.Consequence == "" {
			choice.Consequence = "Nothing else happens."
		}
		for _, name := range c.Items {
			if name = strings.TrimSpace(name); name != "" {
				choice.Items = append(choice.Items, name)
			}
		}
		enc.Choices = append(enc.Choices, choice)
	}
	return enc, nil
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Fallback is the built-in encounter used whenever generation fails.
func Fallback(npc catalog.NPC) domain.Encounter {
	return domain.Encounter{
		NPC:      domain.NPC{Name: npc.Name, Description: npc.Description},
		Dialogue: fmt.Sprintf("%s blocks your path. \"The toll is ten coins, traveler.\"", npc.Name),
		Choices: []domain.Choice{
			{
				Text:           "Pay the toll",
				CurrencyChange: -10,
				Consequence:    fmt.Sprintf("%s pockets the coins and steps aside.", npc.Name),
			},
			{
				Text:         "Push past",
				HealthChange: -5,
				Consequence:  fmt.Sprintf("You shove past %s and take a bruise for it.", npc.Name),
			},
		},
		Fallback: true,
	}
}
