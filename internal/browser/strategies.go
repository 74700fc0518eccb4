package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/browser/handle"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/humanoid"
)

var (
	ErrNotAdjacent  = errors.New("browser: walk edge does not join adjacent tiles")
	ErrNoStrategy   = errors.New("browser: no strategy for transition kind")
	ErrItemNotFound = errors.New("browser: no item teleports to the destination")
)

// Strategy turns one edge into the interaction that realizes it.
type Strategy interface {
	Interaction(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error)

func (f StrategyFunc) Interaction(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error) {
	return f(s, from, to)
}

// StrategyFactory builds a strategy from the browser configuration.
type StrategyFactory func(cfg config.BrowserConfig) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[schemas.TransitionKind]StrategyFactory{}
)

// RegisterStrategy installs the factory used for kind by sessions created
// afterwards, replacing any earlier registration.
func RegisterStrategy(kind schemas.TransitionKind, factory StrategyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// buildStrategies instantiates every registered strategy.
func buildStrategies(cfg config.BrowserConfig) (map[schemas.TransitionKind]Strategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	strategies := make(map[schemas.TransitionKind]Strategy, len(registry))
	for kind, factory := range registry {
		s, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s strategy: %w", kind, err)
		}
		strategies[kind] = s
	}
	return strategies, nil
}

func init() {
	RegisterStrategy(schemas.KindWalk, newWalkStrategy)
	for _, kind := range []schemas.TransitionKind{
		schemas.KindInteract,
		schemas.KindLodestone,
		schemas.KindFairyRing,
		schemas.KindSpiritTree,
		schemas.KindPortal,
	} {
		RegisterStrategy(kind, newInteractStrategy)
	}
	for _, kind := range []schemas.TransitionKind{
		schemas.KindSpellTeleport,
		schemas.KindTabletTeleport,
		schemas.KindScrollTeleport,
		schemas.KindJewelleryTeleport,
	} {
		RegisterStrategy(kind, newItemStrategy)
	}
}

// -- walk --

// newWalkStrategy clicks the direction button for the step. Every one of the
// eight directions must have a selector.
func newWalkStrategy(cfg config.BrowserConfig) (Strategy, error) {
	buttons := make(map[schemas.Direction]string, len(schemas.AllDirections))
	for key, selector := range cfg.Selectors.Directions {
		dir, ok := schemas.ParseDirection(key)
		if !ok {
			return nil, fmt.Errorf("unknown direction %q", key)
		}
		buttons[dir] = selector
	}
	var missing []string
	for _, dir := range schemas.AllDirections {
		if buttons[dir] == "" {
			missing = append(missing, dir.Key())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no selector for directions %s", strings.Join(missing, ", "))
	}

	return StrategyFunc(func(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error) {
		dir, ok := schemas.DirectionBetween(from, to)
		if !ok {
			return humanoid.Interaction{}, fmt.Errorf("%w: %s -> %s", ErrNotAdjacent, from, to)
		}
		return Click(s.scope, buttons[dir], s.recovery, s.logger), nil
	}), nil
}

// -- interact --

// newInteractStrategy clicks the on-screen object for the destination. The
// selector template receives the destination through {x} and {y}.
func newInteractStrategy(cfg config.BrowserConfig) (Strategy, error) {
	template := cfg.Selectors.Action
	if template == "" {
		return nil, errors.New("browser.selectors.action is empty")
	}
	return StrategyFunc(func(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error) {
		return Click(s.scope, ActionSelector(template, to), s.recovery, s.logger), nil
	}), nil
}

// ActionSelector fills the destination into an action selector template.
func ActionSelector(template string, to schemas.Coordinate) string {
	return strings.NewReplacer("{x}", strconv.Itoa(to.X), "{y}", strconv.Itoa(to.Y)).Replace(template)
}

// -- items --

// newItemStrategy uses the inventory item whose destination attribute names
// the edge's destination.
func newItemStrategy(cfg config.BrowserConfig) (Strategy, error) {
	items, attr := cfg.Selectors.InventoryItem, cfg.Selectors.ItemDestination
	if items == "" || attr == "" {
		return nil, errors.New("browser.selectors.inventory_item and item_destination are required")
	}
	return StrategyFunc(func(s *Session, from, to schemas.Coordinate) (humanoid.Interaction, error) {
		return humanoid.Interaction{
			Kind:   humanoid.InteractionClick,
			Target: fmt.Sprintf("%s[%s=%s]", items, attr, to),
			Action: chromedp.ActionFunc(func(ctx context.Context) error {
				h, err := findItem(ctx, s.scope, items, attr, to, s.recovery, s.logger)
				if err != nil {
					return err
				}
				return h.Click(ctx)
			}),
		}, nil
	}), nil
}

func findItem(ctx context.Context, scope handle.Scope, items, attr string, to schemas.Coordinate, recovery handle.Config, logger *zap.Logger) (*handle.Handle, error) {
	handles, err := handle.FindAll(ctx, scope, items, recovery, logger)
	if err != nil {
		return nil, err
	}
	for _, h := range handles {
		value, ok, err := h.Attribute(ctx, attr)
		if err != nil {
			return nil, fmt.Errorf("reading %s of %s[%d]: %w", attr, items, h.Index(), err)
		}
		if !ok {
			continue
		}
		dest, err := schemas.ParseCoordinate(value)
		if err != nil {
			logger.Debug("Ignoring item with malformed destination.", zap.String("value", value))
			continue
		}
		if dest == to {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %s among %d items", ErrItemNotFound, to, len(handles))
}
