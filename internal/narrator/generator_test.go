package narrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
)

var hermit = catalog.NPC{
	Name:        "Old Hermit",
	Description: "A hunched figure muttering over a guttering candle.",
	Likes:       []string{"honesty"},
	Dislikes:    []string{"greed"},
}

type funcStrategy func(ctx context.Context, req Request) (Draft, error)

func (f funcStrategy) Name() string { return "func" }

func (f funcStrategy) GenerateEncounter(ctx context.Context, req Request) (Draft, error) {
	return f(ctx, req)
}

func twoChoices() Draft {
	return Draft{
		Dialogue: "Who goes there?",
		Choices: []domain.Choice{
			{Text: "A friend", HealthChange: 5, Consequence: "The hermit relaxes."},
			{Text: "Draw steel", HealthChange: -10, CurrencyChange: 30, Consequence: "You take his purse.", Items: []string{"Buckler"}},
		},
	}
}

func assertFallback(t *testing.T, enc domain.Encounter) {
	t.Helper()
	if !enc.Fallback {
		t.Fatalf("Expected fallback encounter, got %+v", enc)
	}
	if len(enc.Choices) != domain.EncounterChoices {
		t.Fatalf("Fallback must have %d choices, got %d", domain.EncounterChoices, len(enc.Choices))
	}
	if enc.ID == "" {
		t.Error("Fallback encounter has no ID")
	}
	if enc.NPC.Name != hermit.Name {
		t.Errorf("Expected NPC %q, got %q", hermit.Name, enc.NPC.Name)
	}
}

func TestGenerator_AcceptsValidDraft(t *testing.T) {
	g := NewGenerator(funcStrategy(func(context.Context, Request) (Draft, error) {
		return twoChoices(), nil
	}), time.Second, nil)

	enc := g.Generate(context.Background(), hermit)
	if enc.Fallback {
		t.Fatal("Valid draft should not fall back")
	}
	if enc.ID == "" {
		t.Error("Expected encounter ID")
	}
	if enc.Dialogue != "Who goes there?" || enc.Choices[1].CurrencyChange != 30 {
		t.Errorf("Unexpected encounter %+v", enc)
	}
	if enc.NPC.Description != hermit.Description {
		t.Errorf("Expected NPC description to be attached, got %q", enc.NPC.Description)
	}
}

func TestGenerator_FallsBack(t *testing.T) {
	tests := []struct {
		name     string
		strategy funcStrategy
	}{
		{"error", func(context.Context, Request) (Draft, error) {
			return Draft{}, errors.New("503 service unavailable")
		}},
		{"single choice", func(context.Context, Request) (Draft, error) {
			d := twoChoices()
			d.Choices = d.Choices[:1]
			return d, nil
		}},
		{"three choices", func(context.Context, Request) (Draft, error) {
			d := twoChoices()
			d.Choices = append(d.Choices, d.Choices[0])
			return d, nil
		}},
		{"panic", func(context.Context, Request) (Draft, error) {
			panic("boom")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.strategy, time.Second, nil)
			assertFallback(t, g.Generate(context.Background(), hermit))
		})
	}
}

func TestGenerator_TimeoutDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := NewGenerator(funcStrategy(func(context.Context, Request) (Draft, error) {
		// Ignores its context on purpose.
		<-release
		return twoChoices(), nil
	}), 20*time.Millisecond, nil)

	start := time.Now()
	enc := g.Generate(context.Background(), hermit)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Generate blocked for %v", elapsed)
	}
	assertFallback(t, enc)
}

func TestGenerator_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGenerator(funcStrategy(func(ctx context.Context, _ Request) (Draft, error) {
		<-ctx.Done()
		return Draft{}, ctx.Err()
	}), time.Minute, nil)

	assertFallback(t, g.Generate(ctx, hermit))
}

func TestGenerator_NilStrategyUsesStatic(t *testing.T) {
	g := NewGenerator(nil, 0, nil)
	enc := g.Generate(context.Background(), hermit)
	if len(enc.Choices) != domain.EncounterChoices {
		t.Fatalf("Expected %d choices, got %d", domain.EncounterChoices, len(enc.Choices))
	}
	if !strings.Contains(enc.Dialogue, hermit.Name) {
		t.Errorf("Expected dialogue to mention NPC, got %q", enc.Dialogue)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	enc, err := Normalize(hermit, Draft{
		Dialogue: "   ",
		Choices: []domain.Choice{
			{HealthChange: 500, CurrencyChange: -5000, Items: []string{"  Buckler ", "", "   "}},
			{Text: " Run ", HealthChange: -101, CurrencyChange: 1000, Consequence: " You flee. "},
		},
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if enc.Dialogue != "Old Hermit regards you silently." {
		t.Errorf("Unexpected dialogue default %q", enc.Dialogue)
	}
	first, second := enc.Choices[0], enc.Choices[1]
	if first.Text != "Choice 1" || first.Consequence != "Nothing else happens." {
		t.Errorf("Unexpected defaults %+v", first)
	}
	if first.HealthChange != 100 || first.CurrencyChange != -1000 {
		t.Errorf("Expected clamped deltas, got %+v", first)
	}
	if len(first.Items) != 1 || first.Items[0] != "Buckler" {
		t.Errorf("Expected trimmed items, got %v", first.Items)
	}
	if second.Text != "Run" || second.Consequence != "You flee." || second.HealthChange != -100 {
		t.Errorf("Unexpected second choice %+v", second)
	}
}

func TestParseDraft(t *testing.T) {
	raw := "```json\n{\"dialogue\": \"Hi\", \"choices\": [{\"text\": \"a\"}, {\"text\": \"b\", \"currency_change\": 5}]}\n```"
	d, err := ParseDraft(raw)
	if err != nil {
		t.Fatalf("ParseDraft failed: %v", err)
	}
	if d.Dialogue != "Hi" || len(d.Choices) != 2 || d.Choices[1].CurrencyChange != 5 {
		t.Errorf("Unexpected draft %+v", d)
	}

	for _, bad := range []string{"", "no json here", "{\"choices\": 3}"} {
		if _, err := ParseDraft(bad); !errors.Is(err, ErrMalformedDraft) {
			t.Errorf("ParseDraft(%q): expected ErrMalformedDraft, got %v", bad, err)
		}
	}
}

func TestPromptMentionsNPC(t *testing.T) {
	p := Prompt(hermit)
	for _, want := range []string{"Old Hermit", "honesty", "greed", "exactly two choices"} {
		if !strings.Contains(p, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}

func TestAzureOpenAI_ParsesCompletion(t *testing.T) {
	var gotPrompt string
	a := &AzureOpenAI{complete: func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Sure! {\"dialogue\": \"Hm.\", \"choices\": [{\"text\": \"x\"}, {\"text\": \"y\"}]}", nil
	}}

	d, err := a.GenerateEncounter(context.Background(), Request{NPC: hermit})
	if err != nil {
		t.Fatalf("GenerateEncounter failed: %v", err)
	}
	if len(d.Choices) != 2 || d.Dialogue != "Hm." {
		t.Errorf("Unexpected draft %+v", d)
	}
	if !strings.Contains(gotPrompt, hermit.Name) {
		t.Errorf("Prompt did not mention NPC: %q", gotPrompt)
	}

	failing := &AzureOpenAI{complete: func(context.Context, string) (string, error) {
		return "", errNoCompletion
	}}
	if _, err := failing.GenerateEncounter(context.Background(), Request{NPC: hermit}); !errors.Is(err, errNoCompletion) {
		t.Errorf("Expected errNoCompletion, got %v", err)
	}
}
