// Package catalog holds the static game data the engine draws from: items,
// NPC templates, escapade kinds and the flavor tables used in log lines.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ashureev/crawl/internal/random"
	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var defaultData []byte

// Category is an item's equipment slot.
type Category string

const (
	CategoryWings     Category = "wings"
	CategoryHeadpiece Category = "headpiece"
	CategoryArmour    Category = "armour"
	CategoryMelee     Category = "melee"
	CategoryShield    Category = "shield"
	CategoryLegs      Category = "legs"
	CategoryCoins     Category = "coins"
)

var validCategories = map[Category]bool{
	CategoryWings: true, CategoryHeadpiece: true, CategoryArmour: true,
	CategoryMelee: true, CategoryShield: true, CategoryLegs: true, CategoryCoins: true,
}

// Rarity grades an item.
type Rarity string

// Item is a catalog entry. Session loot and inventories refer to items by ID.
type Item struct {
	ID       int64          `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	FileName string         `yaml:"file_name" json:"file_name"`
	Category Category       `yaml:"category" json:"category"`
	Rarity   Rarity         `yaml:"rarity" json:"rarity"`
	Stats    map[string]int `yaml:"stats" json:"stats,omitempty"`
}

// NPC is an encounter template.
type NPC struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Likes       []string `yaml:"likes"`
	Dislikes    []string `yaml:"dislikes"`
	FileName    string   `yaml:"file_name"`
}

// Flavor is a named entity that only appears in log text.
type Flavor struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type document struct {
	Items     []Item   `yaml:"items"`
	NPCs      []NPC    `yaml:"npcs"`
	Monsters  []Flavor `yaml:"monsters"`
	Traps     []string `yaml:"traps"`
	Treasures []Flavor `yaml:"treasures"`
	Puzzles   []string `yaml:"puzzles"`
}

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	items  []Item
	byID   map[int64]Item
	byName map[string]Item
	loot   []Item
	npcs   []NPC
	flavor Flavors
}

// Flavors are the tables escapade log lines draw names from.
type Flavors struct {
	Monsters  []Flavor
	Traps     []string
	Treasures []Flavor
	Puzzles   []string
}

// Default loads the embedded catalog.
func Default() (*Catalog, error) {
	return Load(defaultData)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		byID:      make(map[int64]Item, len(doc.Items)),
		byName:    make(map[string]Item, len(doc.Items)),
		npcs:   doc.NPCs,
		flavor: Flavors{
			Monsters:  doc.Monsters,
			Traps:     doc.Traps,
			Treasures: doc.Treasures,
			Puzzles:   doc.Puzzles,
		},
	}
	for _, it := range doc.Items {
		if it.ID <= 0 {
			return nil, fmt.Errorf("item %q: id must be positive", it.Name)
		}
		if strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("item %d: name is required", it.ID)
		}
		if !validCategories[it.Category] {
			return nil, fmt.Errorf("item %q: unknown category %q", it.Name, it.Category)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("item %q: duplicate id %d", it.Name, it.ID)
		}
		key := nameKey(it.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("duplicate item name %q", it.Name)
		}
		c.items = append(c.items, it)
		c.byID[it.ID] = it
		c.byName[key] = it
		if it.Category != CategoryCoins {
			c.loot = append(c.loot, it)
		}
	}
	for i, npc := range c.npcs {
		if strings.TrimSpace(npc.Name) == "" {
			return nil, fmt.Errorf("npc %d: name is required", i)
		}
	}
	return c, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Items returns every catalog item.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Flavors returns the escapade flavor tables.
func (c *Catalog) Flavors() Flavors {
	return c.flavor
}

// ItemByID looks up an item by ID.
func (c *Catalog) ItemByID(id int64) (Item, bool) {
	it, ok := c.byID[id]
	return it, ok
}

// FindItemByName looks up an item by case-insensitive name.
func (c *Catalog) FindItemByName(name string) (Item, bool) {
	it, ok := c.byName[nameKey(name)]
	return it, ok
}

// RandomLoot picks a uniformly random non-coin item.
func (c *Catalog) RandomLoot(src random.Source) (Item, bool) {
	if len(c.loot) == 0 {
		return Item{}, false
	}
	return c.loot[src.IntN(len(c.loot))], true
}

// RandomNPC picks a uniformly random NPC template.
func (c *Catalog) RandomNPC(src random.Source) (NPC, bool) {
	if len(c.npcs) == 0 {
		return NPC{}, false
	}
	return c.npcs[src.IntN(len(c.npcs))], true
}
