package game

// Direction codes '0'..'7' run clockwise starting toward player One's goal.
var directionDeltas = [8][2]int{
	{0, -1},
	{1, -1},
	{1, 0},
	{1, 1},
	{0, 1},
	{-1, 1},
	{-1, 0},
	{-1, -1},
}

func directionOf(dx, dy int) int {
	for d, v := range directionDeltas {
		if v[0] == dx && v[1] == dy {
			return d
		}
	}
	return -1
}

// ValidCode reports whether c is a direction code.
func ValidCode(c byte) bool { return c >= '0' && c <= '7' }
