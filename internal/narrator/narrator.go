// Package narrator generates NPC encounters for dungeon sessions.
//
// Content comes from a pluggable Strategy (a language model, a remote
// narrator service, or nothing at all). The Generator wraps any strategy so
// that a failure, a timeout or malformed output degrades to a built-in
// encounter instead of surfacing to the engine.
package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
)

// Request is what a strategy is asked to write an encounter for.
type Request struct {
	NPC catalog.NPC
}

// Draft is a strategy's unvalidated encounter.
type Draft struct {
	Dialogue string          `json:"dialogue"`
	Choices  []domain.Choice `json:"choices"`
}

// Strategy produces encounter drafts.
type Strategy interface {
	Name() string
	GenerateEncounter(ctx context.Context, req Request) (Draft, error)
}

// ErrMalformedDraft is returned when strategy output cannot be used.
var ErrMalformedDraft = errors.New("malformed encounter draft")

// ExternalServiceError wraps a strategy failure.
type ExternalServiceError struct {
	Strategy string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("narrator %s: %v", e.Strategy, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// ParseDraft decodes a JSON draft, tolerating markdown code fences and
// surrounding prose.
func ParseDraft(raw string) (Draft, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Draft{}, fmt.Errorf("%w: no JSON object found", ErrMalformedDraft)
	}

	var d Draft
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrMalformedDraft, err)
	}
	return d, nil
}

// Prompt renders the instruction sent to text-generating strategies.
func Prompt(npc catalog.NPC) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are narrating a dungeon crawl. The player meets %s: %s\n", npc.Name, npc.Description)
	if len(npc.Likes) > 0 {
		fmt.Fprintf(&b, "%s likes: %s.\n", npc.Name, strings.Join(npc.Likes, ", "))
	}
	if len(npc.Dislikes) > 0 {
		fmt.Fprintf(&b, "%s dislikes: %s.\n", npc.Name, strings.Join(npc.Dislikes, ", "))
	}
	b.WriteString("Write one line of dialogue and exactly two choices for the player.\n")
	b.WriteString("Respond with JSON only, in this shape:\n")
	b.WriteString(`{"dialogue": "...", "choices": [{"text": "...", "health_change": 0, "currency_change": 0, "consequence": "...", "items": []}, {...}]}`)
	b.WriteString("\nhealth_change is between -100 and 100, currency_change between -1000 and 1000. items are item names and may be empty.")
	return b.String()
}
