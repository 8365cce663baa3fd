package domain

// Direction is one of the two travel directions of the line, displayed
// as 1 and 2. GTFS encodes the same concept as direction_id 0/1.
type Direction int

const (
	Direction1 Direction = 1
	Direction2 Direction = 2
)

// DirectionFromGTFS converts a GTFS direction_id (0 or 1) to the
// displayed direction (1 or 2).
func DirectionFromGTFS(id int) Direction {
	if id == 0 {
		return Direction1
	}
	return Direction2
}

func (d Direction) Valid() bool {
	return d == Direction1 || d == Direction2
}
