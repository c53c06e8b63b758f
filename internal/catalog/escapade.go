package catalog

// EscapadeKind is one of the fixed minor-event kinds.
type EscapadeKind string

const (
	EscapadeCombat    EscapadeKind = "combat"
	EscapadeTrap      EscapadeKind = "trap"
	EscapadeDiscovery EscapadeKind = "discovery"
	EscapadePuzzle    EscapadeKind = "puzzle"
	EscapadeRest      EscapadeKind = "rest"
)

// EscapadeKinds lists every kind in selection order.
var EscapadeKinds = []EscapadeKind{
	EscapadeCombat,
	EscapadeTrap,
	EscapadeDiscovery,
	EscapadePuzzle,
	EscapadeRest,
}

// Valid reports whether k is a known kind.
func (k EscapadeKind) Valid() bool {
	for _, known := range EscapadeKinds {
		if k == known {
			return true
		}
	}
	return false
}
