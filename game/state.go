// Package game defines the Paper Soccer pitch graph and the game model.
//
// A Layout holds the immutable tables for one pitch size. A Board is the
// mutable edge state on top of a layout and is cheap to clone for search
// workers. A Game adds the side to move, the move notation and undo.
package game

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIllegalMove    = errors.New("illegal move")
	ErrGameOver       = errors.New("game is over")
	ErrNothingToUndo  = errors.New("no move to undo")
	ErrLayoutMismatch = errors.New("games use different layouts")
)

type hop struct {
	from int
	to   int
}

type turnRecord struct {
	hopStart    int
	notationLen int
	player      Player
}

// Game is a Board plus turn bookkeeping. Current is the side to move and
// Rounds counts applied moves (whole turns or partial continuations).
type Game struct {
	Board   *Board
	Current Player
	Rounds  int

	notation []byte
	hops     []hop
	history  []turnRecord
}

// NewGame returns a game at kick-off with player One to move.
func NewGame(l *Layout) *Game {
	return &Game{
		Board:   l.NewBoard(),
		Current: One,
	}
}

// Clone performs a deep copy of the game, including its undo history.
func (g *Game) Clone() *Game {
	return &Game{
		Board:    g.Board.Clone(),
		Current:  g.Current,
		Rounds:   g.Rounds,
		notation: append([]byte(nil), g.notation...),
		hops:     append([]hop(nil), g.hops...),
		history:  append([]turnRecord(nil), g.history...),
	}
}

// SetFrom copies the position of src into g without reallocating the board.
// Notation and undo history are cleared.
func (g *Game) SetFrom(src *Game) error {
	if g.Board.layout != src.Board.layout {
		return ErrLayoutMismatch
	}
	g.Board.CopyFrom(src.Board)
	g.Current = src.Current
	g.Rounds = src.Rounds
	g.notation = g.notation[:0]
	g.hops = g.hops[:0]
	g.history = g.history[:0]
	return nil
}

func (g *Game) Layout() *Layout { return g.Board.layout }

// Notation is the move record so far: hops as digits, turns separated by
// commas and the winner letter appended once the game ends.
func (g *Game) Notation() string { return string(g.notation) }

func (g *Game) ChangePlayer() { g.Current = g.Current.Opponent() }

// MakeMove applies a compound move for the side to move. Every hop but the
// last must land on a node where the mover continues. On error the game is
// left unchanged.
func (g *Game) MakeMove(move string) error {
	if g.IsOver() {
		return ErrGameOver
	}
	if move == "" {
		return fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	b := g.Board
	rec := turnRecord{hopStart: len(g.hops), notationLen: len(g.notation), player: g.Current}
	for i := 0; i < len(move); i++ {
		n := b.Step(move[i])
		if n < 0 {
			g.rollback(rec)
			return fmt.Errorf("%w: hop %d %q of %q", ErrIllegalMove, i, move[i], move)
		}
		b.AddEdge(b.ball, n, g.Current)
		g.hops = append(g.hops, hop{from: b.ball, to: n})
		b.ball = n
		if i < len(move)-1 && (b.IsOver() || !b.MustContinueAfterArrival(n)) {
			g.rollback(rec)
			return fmt.Errorf("%w: turn ends after hop %d of %q", ErrIllegalMove, i, move)
		}
	}

	g.history = append(g.history, rec)
	g.notation = append(g.notation, move...)
	if !g.IsOver() {
		if !b.MustContinueAfterArrival(b.ball) {
			g.ChangePlayer()
			g.notation = append(g.notation, ',')
		}
	} else {
		g.notation = append(g.notation, ' ')
		g.notation = append(g.notation, g.Winner().Letter()...)
	}
	g.Rounds++
	return nil
}

func (g *Game) rollback(rec turnRecord) {
	for len(g.hops) > rec.hopStart {
		h := g.hops[len(g.hops)-1]
		g.hops = g.hops[:len(g.hops)-1]
		g.Board.RemoveEdge(h.from, h.to)
		g.Board.ball = h.from
	}
}

// UndoMove reverts the last MakeMove.
func (g *Game) UndoMove() error {
	if len(g.history) == 0 {
		return ErrNothingToUndo
	}
	rec := g.history[len(g.history)-1]
	g.history = g.history[:len(g.history)-1]
	g.rollback(rec)
	g.notation = g.notation[:rec.notationLen]
	g.Current = rec.player
	g.Rounds--
	return nil
}

// Moves lists the single-hop codes available from the ball.
func (g *Game) Moves() []string {
	var ns [8]int
	b := g.Board
	out := make([]string, 0, 8)
	for _, n := range b.FreeNeighbors(ns[:0], b.ball) {
		out = append(out, string(b.layout.Direction(b.ball, n)))
	}
	return out
}

func (g *Game) IsOver() bool { return g.Board.IsOver() }

// Winner is the side that wins the finished game: a ball in a goal loses for
// the goal's owner, a stuck ball loses for the side to move. The result is
// meaningless before IsOver.
func (g *Game) Winner() Player {
	if owner := g.Board.layout.goal[g.Board.ball]; owner != None {
		return owner.Opponent()
	}
	return g.Current.Opponent()
}

// ApplyHistory replays a comma separated move record such as the one
// returned by Notation. A trailing winner letter is ignored.
func (g *Game) ApplyHistory(history string) error {
	history = strings.TrimSpace(history)
	if i := strings.IndexByte(history, ' '); i >= 0 {
		history = history[:i]
	}
	for _, turn := range strings.Split(history, ",") {
		turn = strings.TrimSpace(turn)
		if turn == "" {
			continue
		}
		if err := g.MakeMove(turn); err != nil {
			return fmt.Errorf("replay %q: %w", turn, err)
		}
	}
	return nil
}
