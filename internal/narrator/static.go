package narrator

import "context"

// Static is the strategy used when no content provider is configured. It
// always returns the fallback encounter.
type Static struct{}

// Name implements Strategy.
func (Static) Name() string { return "static" }

// GenerateEncounter implements Strategy.
func (Static) GenerateEncounter(_ context.Context, req Request) (Draft, error) {
	enc := Fallback(req.NPC)
	return Draft{Dialogue: enc.Dialogue, Choices: enc.Choices}, nil
}
