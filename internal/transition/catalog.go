// Package transition holds the fixed catalog that maps each transition kind
// to its relative edge cost. It is the only place costs are constructed, so a
// cost read back from a graph edge always matches a catalog entry exactly.
package transition

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// ErrInvalidCost is returned by KindOf when a cost has no catalog entry.
var ErrInvalidCost = errors.New("transition: cost does not match any kind")

// costFor is the single cost construction. Costs grow strictly with the kind
// ordinal, which keeps the mapping injective.
func costFor(kind schemas.TransitionKind) float64 {
	return 1 + float64(kind)/1000
}

var (
	costs   map[schemas.TransitionKind]float64
	byCosts map[float64]schemas.TransitionKind
)

func init() {
	kinds := schemas.AllTransitionKinds()
	costs = make(map[schemas.TransitionKind]float64, len(kinds))
	byCosts = make(map[float64]schemas.TransitionKind, len(kinds))
	for _, k := range kinds {
		c := costFor(k)
		if prev, dup := byCosts[c]; dup {
			panic(fmt.Sprintf("transition: kinds %s and %s share cost %v", prev, k, c))
		}
		costs[k] = c
		byCosts[c] = k
	}
}

// CostOf returns the edge cost for kind. It panics on a kind outside the
// catalog, since callers only ever hold kinds from the schemas enumeration.
func CostOf(kind schemas.TransitionKind) float64 {
	c, ok := costs[kind]
	if !ok {
		panic(fmt.Sprintf("transition: no cost for %s", kind))
	}
	return c
}

// KindOf recovers the kind that produced cost. The lookup is exact.
func KindOf(cost float64) (schemas.TransitionKind, error) {
	k, ok := byCosts[cost]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}
	return k, nil
}

// Kinds returns every catalogued kind in cost order.
func Kinds() []schemas.TransitionKind {
	return schemas.AllTransitionKinds()
}
