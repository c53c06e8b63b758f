package dungeon

import (
	"fmt"
	"time"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/random"
)

// Escapade effect ranges. Damage and healing bounds are inclusive.
const (
	combatDamageMin = 10
	combatDamageMax = 25
	trapDamageMin   = 15
	trapDamageMax   = 25
	puzzleDamageMin = 5
	puzzleDamageMax = 10
	restHealMin     = 10
	restHealMax     = 15

	puzzleSuccessChance = 0.7
)

// Escapade describes what a single minor event did.
type Escapade struct {
	Kind        catalog.EscapadeKind
	HealthDelta int
	Message     string
}

type escapadeFunc func(s *domain.Session) Escapade

// EscapadeGenerator runs randomly chosen minor events against a session.
type EscapadeGenerator struct {
	flavors  catalog.Flavors
	rnd      random.Source
	handlers map[catalog.EscapadeKind]escapadeFunc
}

// NewEscapadeGenerator creates a generator drawing names from flavors.
func NewEscapadeGenerator(flavors catalog.Flavors, rnd random.Source) *EscapadeGenerator {
	g := &EscapadeGenerator{flavors: flavors, rnd: rnd}
	g.handlers = map[catalog.EscapadeKind]escapadeFunc{
		catalog.EscapadeCombat:    g.combat,
		catalog.EscapadeTrap:      g.trap,
		catalog.EscapadeDiscovery: g.discovery,
		catalog.EscapadePuzzle:    g.puzzle,
		catalog.EscapadeRest:      g.rest,
	}
	return g
}

// Run picks a kind uniformly and applies it. Exactly one log entry is appended.
func (g *EscapadeGenerator) Run(s *domain.Session, now time.Time) Escapade {
	kind := catalog.EscapadeKinds[g.rnd.IntN(len(catalog.EscapadeKinds))]
	return g.RunKind(kind, s, now)
}

// RunKind applies a specific kind. Unknown kinds are treated as discovery.
func (g *EscapadeGenerator) RunKind(kind catalog.EscapadeKind, s *domain.Session, now time.Time) Escapade {
	h, ok := g.handlers[kind]
	if !ok {
		h = g.discovery
	}
	e := h(s)
	s.AddLog(now, e.Message)
	return e
}

func applyDamage(s *domain.Session, amount int) int {
	before := s.Health
	s.Health = domain.ClampHealth(s.Health - amount)
	return s.Health - before
}

func (g *EscapadeGenerator) combat(s *domain.Session) Escapade {
	monster := pickFlavor(g.rnd, g.flavors.Monsters, catalog.Flavor{Name: "Shadow", Description: "A shape that moves at the edge of the torchlight"})
	dmg := random.Between(g.rnd, combatDamageMin, combatDamageMax)
	return Escapade{
		Kind:        catalog.EscapadeCombat,
		HealthDelta: applyDamage(s, dmg),
		Message:     fmt.Sprintf("Fought a %s: %s. Took %d damage.", monster.Name, monster.Description, dmg),
	}
}

func (g *EscapadeGenerator) trap(s *domain.Session) Escapade {
	trap := pickString(g.rnd, g.flavors.Traps, "a hidden pit")
	dmg := random.Between(g.rnd, trapDamageMin, trapDamageMax)
	return Escapade{
		Kind:        catalog.EscapadeTrap,
		HealthDelta: applyDamage(s, dmg),
		Message:     fmt.Sprintf("Triggered %s. Took %d damage.", trap, dmg),
	}
}

func (g *EscapadeGenerator) discovery(_ *domain.Session) Escapade {
	treasure := pickFlavor(g.rnd, g.flavors.Treasures, catalog.Flavor{Name: "Dusty Chest", Description: "An empty chest covered in dust"})
	return Escapade{
		Kind:    catalog.EscapadeDiscovery,
		Message: fmt.Sprintf("Discovered a hidden chamber containing %s: %s.", treasure.Name, treasure.Description),
	}
}

func (g *EscapadeGenerator) puzzle(s *domain.Session) Escapade {
	puzzle := pickString(g.rnd, g.flavors.Puzzles, "a strange lock")
	if g.rnd.Float64() < puzzleSuccessChance {
		return Escapade{
			Kind:    catalog.EscapadePuzzle,
			Message: fmt.Sprintf("Solved %s. Progressed further into the dungeon.", puzzle),
		}
	}
	dmg := random.Between(g.rnd, puzzleDamageMin, puzzleDamageMax)
	return Escapade{
		Kind:        catalog.EscapadePuzzle,
		HealthDelta: applyDamage(s, dmg),
		Message:     fmt.Sprintf("Failed to solve %s. Took %d damage.", puzzle, dmg),
	}
}

func (g *EscapadeGenerator) rest(s *domain.Session) Escapade {
	heal := random.Between(g.rnd, restHealMin, restHealMax)
	before := s.Health
	s.Health = domain.ClampHealth(s.Health + heal)
	return Escapade{
		Kind:        catalog.EscapadeRest,
		HealthDelta: s.Health - before,
		Message:     fmt.Sprintf("Rested and regained %d health.", heal),
	}
}

func pickFlavor(rnd random.Source, list []catalog.Flavor, fallback catalog.Flavor) catalog.Flavor {
	if len(list) == 0 {
		return fallback
	}
	return list[rnd.IntN(len(list))]
}

func pickString(rnd random.Source, list []string, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	return list[rnd.IntN(len(list))]
}
