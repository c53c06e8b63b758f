package domain

// NPC describes the character behind an encounter.
type NPC struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Choice is one of the two options offered by an encounter.
type Choice struct {
	Text           string   `json:"text"`
	HealthChange   int      `json:"health_change"`
	CurrencyChange int      `json:"currency_change"`
	Consequence    string   `json:"consequence"`
	Items          []string `json:"items,omitempty"`
}

// Encounter is a paused, choice-driven NPC event.
type Encounter struct {
	ID       string   `json:"id"`
	NPC      NPC      `json:"npc"`
	Dialogue string   `json:"dialogue"`
	Choices  []Choice `json:"choices"`
	Fallback bool     `json:"fallback,omitempty"`
}

// EncounterChoices is the number of options every encounter must offer.
const EncounterChoices = 2

// Clone returns a deep copy of the encounter.
func (e *Encounter) Clone() *Encounter {
	c := *e
	c.Choices = make([]Choice, len(e.Choices))
	for i, ch := range e.Choices {
		ch.Items = append([]string(nil), ch.Items...)
		c.Choices[i] = ch
	}
	return &c
}
