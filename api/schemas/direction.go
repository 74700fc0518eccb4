package schemas

import "strings"

// Direction is one of the eight compass steps between adjacent tiles.
// North increases Y and East increases X.
type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// AllDirections lists the compass directions clockwise from North.
var AllDirections = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

var directionKeys = [...]string{
	North:     "north",
	NorthEast: "north_east",
	East:      "east",
	SouthEast: "south_east",
	South:     "south",
	SouthWest: "south_west",
	West:      "west",
	NorthWest: "north_west",
}

var directionDeltas = [...][2]int{
	North:     {0, 1},
	NorthEast: {1, 1},
	East:      {1, 0},
	SouthEast: {1, -1},
	South:     {0, -1},
	SouthWest: {-1, -1},
	West:      {-1, 0},
	NorthWest: {-1, 1},
}

// Key is the configuration key of the direction, e.g. "north_east".
func (d Direction) Key() string {
	if d < 0 || int(d) >= len(directionKeys) {
		return "unknown"
	}
	return directionKeys[d]
}

func (d Direction) String() string {
	return strings.ToUpper(d.Key())
}

// Delta returns the (dx, dy) of one step in the direction.
func (d Direction) Delta() (dx, dy int) {
	if d < 0 || int(d) >= len(directionDeltas) {
		return 0, 0
	}
	return directionDeltas[d][0], directionDeltas[d][1]
}

// Step returns the coordinate one tile away from c in the direction.
func (d Direction) Step(c Coordinate) Coordinate {
	dx, dy := d.Delta()
	return Coordinate{X: c.X + dx, Y: c.Y + dy}
}

// DirectionBetween returns the direction that takes from to to in a single
// step. It fails for identical or non-adjacent tiles.
func DirectionBetween(from, to Coordinate) (Direction, bool) {
	dx, dy := to.X-from.X, to.Y-from.Y
	for i, delta := range directionDeltas {
		if delta[0] == dx && delta[1] == dy {
			return Direction(i), true
		}
	}
	return 0, false
}

// ParseDirection resolves a configuration key such as "south_west".
// Hyphens and case are tolerated.
func ParseDirection(key string) (Direction, bool) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	for i, k := range directionKeys {
		if k == key {
			return Direction(i), true
		}
	}
	return 0, false
}
