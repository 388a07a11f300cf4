// Package main serves the engine over HTTP: single-shot move requests and
// a websocket stream of live analysis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/config"
	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/logging"
)

func main() {
	maxBudget := flag.Duration("max-budget", time.Minute, "Upper bound on the think time a request may ask for")

	s, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, err := logging.Setup(os.Stderr, s.LogLevel, s.LogFormat(os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	l := game.Standard()
	eval, closer, err := s.OpenEvaluator(l)
	if err != nil {
		log.Fatal().Err(err).Str("evaluator", s.Evaluator).Msg("failed to open evaluator")
	}
	defer func() { _ = closer.Close() }()

	threads := min(s.Threads, config.MaxInteractiveThreads)
	eng, err := mcts.New(l, eval, s.MCTS(threads, 0))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}

	srv := NewServer(eng, l, s.Budget, *maxBudget)
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	log.Info().Str("addr", s.Addr).Int("threads", threads).Str("evaluator", s.Evaluator).Msg("listening")
	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err, ok := <-serverErrCh:
		if ok {
			log.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}
