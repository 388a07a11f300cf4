package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/game"
)

// Server holds shared state for HTTP handlers.
type Server struct {
	roots   []string
	dbCache *DBCache
	layout  *game.Layout
}

func NewServer(roots []string, refresh time.Duration) *Server {
	return &Server{
		roots:   roots,
		dbCache: NewDBCache(roots, refresh),
		layout:  game.Standard(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/games", s.handleGames)
	r.Get("/api/games/{id}", s.handleGame)
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	db, err := s.dbCache.Get()
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := queryStats(r.Context(), db, parseIntQuery(r, "openings", 8))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntQuery(r, "limit", 50), 500)
	offset := parseIntQuery(r, "offset", 0)

	db, err := s.dbCache.Get()
	if err != nil {
		s.fail(w, err)
		return
	}
	total, err := queryGamesTotal(r.Context(), db)
	if err != nil {
		s.fail(w, err)
		return
	}
	games, err := queryGames(r.Context(), db, s.roots, limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, GamesResponse{Total: total, Games: games})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	db, err := s.dbCache.Get()
	if err != nil {
		s.fail(w, err)
		return
	}
	turns, winner, err := queryTurns(r.Context(), db, id)
	if errors.Is(err, ErrGameNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := GameResponse{GameID: id, Winner: winner, Turns: turns}
	g := game.NewGame(s.layout)
	last := turns[len(turns)-1]
	if err := g.ApplyHistory(last.History + last.Move); err != nil {
		log.Warn().Err(err).Str("game", id).Msg("archived game does not replay")
	}
	resp.Board = g.Render()
	writeJSON(w, resp)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("viewer query failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
