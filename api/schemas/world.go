package schemas

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// -- Core World Models --

// Coordinate is a single tile position in the world.
type Coordinate struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// String renders the coordinate as "x,y", the same form ParseCoordinate accepts.
func (c Coordinate) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// ParseCoordinate parses "x,y" (whitespace around either part is ignored).
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("coordinate %q must have the form x,y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid x in coordinate %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid y in coordinate %q: %w", s, err)
	}
	return Coordinate{X: x, Y: y}, nil
}

// TransitionKind is the category of action used to traverse an edge.
// The ordinal is significant: the transition catalog derives costs from it.
type TransitionKind int

const (
	KindWalk TransitionKind = iota
	KindInteract
	KindSpellTeleport
	KindTabletTeleport
	KindScrollTeleport
	KindJewelleryTeleport
	KindLodestone
	KindFairyRing
	KindSpiritTree
	KindPortal
)

var kindNames = [...]string{
	KindWalk:              "walk",
	KindInteract:          "interact",
	KindSpellTeleport:     "spell_teleport",
	KindTabletTeleport:    "tablet_teleport",
	KindScrollTeleport:    "scroll_teleport",
	KindJewelleryTeleport: "jewellery_teleport",
	KindLodestone:         "lodestone",
	KindFairyRing:         "fairy_ring",
	KindSpiritTree:        "spirit_tree",
	KindPortal:            "portal",
}

// AllTransitionKinds lists every kind in ordinal order.
func AllTransitionKinds() []TransitionKind {
	kinds := make([]TransitionKind, len(kindNames))
	for i := range kindNames {
		kinds[i] = TransitionKind(i)
	}
	return kinds
}

func (k TransitionKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is a known kind.
func (k TransitionKind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// IsWalking reports whether the kind is realized as a directional step.
func (k TransitionKind) IsWalking() bool {
	return k == KindWalk
}

// ParseTransitionKind resolves a kind by its name (case-insensitive).
func ParseTransitionKind(name string) (TransitionKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return TransitionKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transition kind %q", name)
}

// UnmarshalText lets kinds be decoded from YAML and JSON by name.
func (k *TransitionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseTransitionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalText encodes the kind by name.
func (k TransitionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid transition kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// -- Execution Surface Boundary --

// PositionReader reports where the agent currently stands.
type PositionReader interface {
	CurrentPosition(ctx context.Context) (Coordinate, error)
}

// StepExecutor realizes one edge of a path against the execution surface.
type StepExecutor interface {
	// CanAct reports whether the surface is idle enough to accept a new step.
	CanAct(ctx context.Context) bool
	// ExecuteStep attempts one transition. A non-nil error means the step
	// could not be carried out.
	ExecuteStep(ctx context.Context, kind TransitionKind, from, to Coordinate) error
}

// Adapter is the full boundary the movement engine drives.
type Adapter interface {
	PositionReader
	StepExecutor
}
