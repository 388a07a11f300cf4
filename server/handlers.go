package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/config"
	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/game"
)

// Server answers move and analysis requests with a single engine. Searches
// are serialized by the engine.
type Server struct {
	engine        *mcts.Engine
	layout        *game.Layout
	defaultBudget time.Duration
	maxBudget     time.Duration
}

func NewServer(eng *mcts.Engine, l *game.Layout, defaultBudget, maxBudget time.Duration) *Server {
	if defaultBudget <= 0 {
		defaultBudget = 3 * time.Second
	}
	if maxBudget < defaultBudget {
		maxBudget = defaultBudget
	}
	return &Server{engine: eng, layout: l, defaultBudget: defaultBudget, maxBudget: maxBudget}
}

type moveRequest struct {
	History string `json:"history"`
	TimeMs  int    `json:"time_ms"`
	Threads int    `json:"threads"`
}

type moveResponse struct {
	Move     string           `json:"move"`
	Report   string           `json:"report"`
	Win      float32          `json:"win"`
	Visits   int64            `json:"visits"`
	Nodes    int              `json:"nodes"`
	MaxDepth int              `json:"max_depth"`
	Proven   bool             `json:"proven"`
	Children []mcts.ChildStat `json:"children"`
}

type applyRequest struct {
	History string `json:"history"`
	Move    string `json:"move"`
}

type pointDTO struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type stateResponse struct {
	History    string   `json:"history"`
	NextPlayer string   `json:"next_player"`
	Over       bool     `json:"over"`
	Winner     string   `json:"winner,omitempty"`
	Ball       pointDTO `json:"ball"`
	Moves      []string `json:"moves"`
	Board      string   `json:"board"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Post("/api/move", s.handleMove)
	r.Post("/api/apply", s.handleApply)
	r.Get("/ws/analysis", s.serveAnalysisWS)
	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	g, err := s.replay(req.History)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.engine.Search(r.Context(), g, s.budget(req.TimeMs), clampThreads(req.Threads))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMoveResponse(res))
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	g, err := s.replay(req.History)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Move != "" {
		if err := g.MakeMove(req.Move); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.state(g))
}

func (s *Server) replay(history string) (*game.Game, error) {
	g := game.NewGame(s.layout)
	if err := g.ApplyHistory(history); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Server) budget(ms int) time.Duration {
	if ms <= 0 {
		return s.defaultBudget
	}
	return min(time.Duration(ms)*time.Millisecond, s.maxBudget)
}

func clampThreads(n int) int {
	if n <= 0 {
		return 0
	}
	return min(n, config.MaxInteractiveThreads)
}

func (s *Server) state(g *game.Game) stateResponse {
	p := s.layout.Point(g.Board.Ball())
	st := stateResponse{
		History:    g.Notation(),
		NextPlayer: g.Current.String(),
		Over:       g.IsOver(),
		Ball:       pointDTO{X: p.X, Y: p.Y},
		Moves:      g.Moves(),
		Board:      g.Render(),
	}
	if st.Over {
		st.Winner = g.Winner().String()
		st.Moves = []string{}
	}
	return st
}

func toMoveResponse(res mcts.Result) moveResponse {
	return moveResponse{
		Move:     res.Move,
		Report:   res.Report,
		Win:      res.Win,
		Visits:   res.Visits,
		Nodes:    res.Nodes,
		MaxDepth: res.MaxDepth,
		Proven:   res.Proven,
		Children: res.Children,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrIllegalMove):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrGameOver):
		return http.StatusConflict
	case errors.Is(err, mcts.ErrNoCandidates), errors.Is(err, mcts.ErrArenaExhausted):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
