package main

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"
)

var ErrGameNotFound = errors.New("game not found")

// DBCache maintains a cached DuckDB connection that refreshes periodically
// so new batches show up.
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if needed.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()

	newDB, err := openDuckDBWithGlobs(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()

	log.Debug().Dur("elapsed", time.Since(start)).Msg("db cache refreshed")
	return c.db, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// openDuckDBWithGlobs creates an in-memory DuckDB with a turns view over
// every batch file under roots, skipping the tmp directories.
func openDuckDBWithGlobs(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	// Ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		matches, _ := filepath.Glob(filepath.Join(root, "*.parquet"))
		if len(matches) == 0 {
			continue
		}
		globs = append(globs, "'"+escapeSQLString(filepath.Join(root, "*.parquet"))+"'")
	}

	if len(globs) == 0 {
		_, err := db.Exec(`CREATE OR REPLACE VIEW turns AS
			SELECT * FROM (
				SELECT
					NULL::VARCHAR AS game_id,
					NULL::INTEGER AS turn,
					NULL::VARCHAR AS player,
					NULL::VARCHAR AS move,
					NULL::VARCHAR AS history,
					NULL::REAL AS win,
					NULL::BIGINT AS visits,
					NULL::INTEGER AS nodes,
					NULL::INTEGER AS max_depth,
					NULL::INTEGER AS options,
					NULL::INTEGER AS think_ms,
					NULL::VARCHAR AS winner,
					NULL::VARCHAR AS source,
					NULL::BLOB AS root_json,
					NULL::VARCHAR AS filename
			) WHERE 1=0`)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	sqlText := `CREATE OR REPLACE VIEW turns AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
		WHERE NOT contains(filename, '/tmp/')`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func queryStats(ctx context.Context, db *sql.DB, openings int) (StatsResponse, error) {
	var st StatsResponse
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT game_id),
			COUNT(*),
			COALESCE(AVG(think_ms) FILTER (WHERE visits > 0), 0),
			COALESCE(AVG(visits) FILTER (WHERE visits > 0), 0)
		FROM turns`).Scan(&st.Games, &st.Rows, &st.AvgThinkMs, &st.AvgVisits)
	if err != nil {
		return st, err
	}

	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(n), 0)
		FROM (SELECT COUNT(*)::DOUBLE AS n FROM turns GROUP BY game_id)`).Scan(&st.AvgTurns)
	if err != nil {
		return st, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT winner, COUNT(*) AS wins
		FROM (SELECT game_id, MIN(winner) AS winner FROM turns GROUP BY game_id)
		GROUP BY winner
		ORDER BY winner`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var p PlayerStats
		if err := rows.Scan(&p.Player, &p.Wins); err != nil {
			rows.Close()
			return st, err
		}
		if st.Games > 0 {
			p.WinRate = float64(p.Wins) / float64(st.Games)
		}
		st.Players = append(st.Players, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT
			move,
			COUNT(*) AS games,
			AVG(CASE WHEN winner = player THEN 1.0 ELSE 0.0 END) AS mover_wins
		FROM turns
		WHERE turn = 0
		GROUP BY move
		ORDER BY games DESC, move
		LIMIT ?`, openings)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var o OpeningStats
		if err := rows.Scan(&o.Move, &o.Games, &o.MoverWins); err != nil {
			return st, err
		}
		st.Openings = append(st.Openings, o)
	}
	return st, rows.Err()
}

func queryGamesTotal(ctx context.Context, db *sql.DB) (int64, error) {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT game_id) FROM turns`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func queryGames(ctx context.Context, db *sql.DB, roots []string, limit, offset int) ([]GameSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			game_id,
			COUNT(*)::INTEGER AS turns,
			MIN(winner) AS winner,
			MIN(source) AS source,
			MIN(filename) AS file,
			arg_max(history || move, turn) AS notation
		FROM turns
		GROUP BY game_id
		ORDER BY file DESC, game_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GameSummary, 0, limit)
	for rows.Next() {
		var g GameSummary
		var file string
		if err := rows.Scan(&g.GameID, &g.Turns, &g.Winner, &g.Source, &file, &g.Notation); err != nil {
			return nil, err
		}
		g.SourceFile = makeRelativeToRoots(file, roots)
		out = append(out, g)
	}
	return out, rows.Err()
}

func queryTurns(ctx context.Context, db *sql.DB, gameID string) ([]Turn, string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT turn, player, move, history, win, visits, nodes, max_depth, options, think_ms, winner
		FROM turns
		WHERE game_id = ?
		ORDER BY turn`, gameID)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []Turn
	var winner string
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Turn, &t.Player, &t.Move, &t.History, &t.Win, &t.Visits, &t.Nodes, &t.MaxDepth, &t.Options, &t.ThinkMs, &winner); err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) == 0 {
		return nil, "", ErrGameNotFound
	}
	return out, winner, nil
}

func makeRelativeToRoots(filename string, roots []string) string {
	fn := strings.TrimSpace(filename)
	if fn == "" {
		return ""
	}
	best := fn
	for _, r := range roots {
		root := strings.TrimSpace(r)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, fn)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if cand := filepath.ToSlash(filepath.Join(root, rel)); len(cand) < len(best) {
			best = cand
		}
	}
	return best
}
