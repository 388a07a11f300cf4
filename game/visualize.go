package game

import (
	"fmt"
	"strings"
)

// Render draws the pitch as ASCII art: '+' for nodes, '@' for the ball and
// the drawn segments between them. Player One's goal is at the top.
func (g *Game) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "round %d, %s to move, notation %q\n", g.Rounds, g.Current, g.notation)
	sb.WriteString(g.Board.Render())
	return sb.String()
}

func (b *Board) Render() string {
	l := b.layout
	cols := 2*l.width + 1
	rows := 2*(l.height+2) + 1
	grid := make([][]byte, rows)
	for r := range grid {
		grid[r] = make([]byte, cols)
		for c := range grid[r] {
			grid[r][c] = ' '
		}
	}
	cell := func(p Point) (int, int) { return 2 * (p.Y + 1), 2 * p.X }

	for n := 0; n < l.size; n++ {
		r, c := cell(l.points[n])
		grid[r][c] = '+'
		if n == b.ball {
			grid[r][c] = '@'
		}
	}

	for n := 0; n < l.size; n++ {
		p := l.points[n]
		for _, v := range l.neighbors[n] {
			if v < n || !b.IsDrawn(n, v) {
				continue
			}
			q := l.points[v]
			r1, c1 := cell(p)
			r2, c2 := cell(q)
			r, c := (r1+r2)/2, (c1+c2)/2
			var ch byte
			switch {
			case p.Y == q.Y:
				ch = '-'
			case p.X == q.X:
				ch = '|'
			case (q.X-p.X)*(q.Y-p.Y) > 0:
				ch = '\\'
			default:
				ch = '/'
			}
			if existing := grid[r][c]; existing != ' ' && existing != ch {
				ch = 'X'
			}
			grid[r][c] = ch
		}
	}

	var sb strings.Builder
	for _, row := range grid {
		sb.WriteString(strings.TrimRight(string(row), " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
