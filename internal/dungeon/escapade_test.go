package dungeon

import (
	"strings"
	"testing"

	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/random"
)

func testFlavors() catalog.Flavors {
	return catalog.Flavors{
		Monsters:  []catalog.Flavor{{Name: "Goblin", Description: "A sneaky green creature with sharp teeth"}},
		Traps:     []string{"a spike trap that deals damage"},
		Treasures: []catalog.Flavor{{Name: "Mana Crystal", Description: "A crystal that enhances magical abilities"}},
		Puzzles:   []string{"a riddle inscribed on the wall"},
	}
}

func TestEscapade_Kinds(t *testing.T) {
	tests := []struct {
		name       string
		kind       catalog.EscapadeKind
		health     int
		ints       []int
		floats     []float64
		wantHealth int
		wantLog    string
	}{
		{"combat max", catalog.EscapadeCombat, 100, []int{0, 15}, nil, 75,
			"Fought a Goblin: A sneaky green creature with sharp teeth. Took 25 damage."},
		{"combat floors at zero", catalog.EscapadeCombat, 4, []int{0, 0}, nil, 0,
			"Fought a Goblin: A sneaky green creature with sharp teeth. Took 10 damage."},
		{"trap", catalog.EscapadeTrap, 50, []int{0, 3}, nil, 32,
			"Triggered a spike trap that deals damage. Took 18 damage."},
		{"discovery", catalog.EscapadeDiscovery, 40, []int{0}, nil, 40,
			"Discovered a hidden chamber containing Mana Crystal: A crystal that enhances magical abilities."},
		{"puzzle solved", catalog.EscapadePuzzle, 60, []int{0}, []float64{0.69}, 60,
			"Solved a riddle inscribed on the wall. Progressed further into the dungeon."},
		{"puzzle failed", catalog.EscapadePuzzle, 60, []int{0, 5}, []float64{0.7}, 50,
			"Failed to solve a riddle inscribed on the wall. Took 10 damage."},
		{"rest caps at max", catalog.EscapadeRest, 95, []int{5}, nil, 100,
			"Rested and regained 15 health."},
		{"rest", catalog.EscapadeRest, 30, []int{0}, nil, 40,
			"Rested and regained 10 health."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewEscapadeGenerator(testFlavors(), random.NewScripted(tt.ints, tt.floats))
			s := &domain.Session{Health: tt.health}

			e := g.RunKind(tt.kind, s, t0)

			if e.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, e.Kind)
			}
			if s.Health != tt.wantHealth {
				t.Errorf("Expected health %d, got %d", tt.wantHealth, s.Health)
			}
			if e.HealthDelta != tt.wantHealth-tt.health {
				t.Errorf("Expected delta %d, got %d", tt.wantHealth-tt.health, e.HealthDelta)
			}
			if len(s.Logs) != 1 || s.Logs[0].Message != tt.wantLog {
				t.Errorf("Expected single log %q, got %v", tt.wantLog, s.Logs)
			}
		})
	}
}

func TestEscapade_RunAppendsExactlyOneLog(t *testing.T) {
	g := NewEscapadeGenerator(testFlavors(), random.New(3))
	s := &domain.Session{Health: domain.MaxHealth}
	seen := make(map[catalog.EscapadeKind]bool)

	for i := 1; i <= 500; i++ {
		e := g.Run(s, t0)
		seen[e.Kind] = true
		if len(s.Logs) != i {
			t.Fatalf("Run %d: expected %d logs, got %d", i, i, len(s.Logs))
		}
		if s.Health < domain.MinHealth || s.Health > domain.MaxHealth {
			t.Fatalf("Run %d: health %d out of bounds", i, s.Health)
		}
		if s.Health == 0 {
			s.Health = domain.MaxHealth
		}
	}
	for _, k := range catalog.EscapadeKinds {
		if !seen[k] {
			t.Errorf("Kind %s never selected", k)
		}
	}
}

func TestEscapade_EmptyFlavorTables(t *testing.T) {
	g := NewEscapadeGenerator(catalog.Flavors{}, random.NewScripted([]int{0}, []float64{0.1}))
	for _, k := range catalog.EscapadeKinds {
		s := &domain.Session{Health: 50}
		e := g.RunKind(k, s, t0)
		if strings.TrimSpace(e.Message) == "" || len(s.Logs) != 1 {
			t.Errorf("%s: expected a log line, got %q", k, e.Message)
		}
	}
}
