// Package main summarises self-play archives with DuckDB, either once on
// the command line or as a small JSON API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/logging"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", "127.0.0.1:8081", "HTTP listen address")
	dataDirs := fs.String("data-dirs", filepath.Join("data", "selfplay"), "Comma-separated list of directories containing turn parquet batches")
	refresh := fs.Duration("refresh", 30*time.Second, "How long a DuckDB view is reused before new batches are picked up")
	statsOnly := fs.Bool("stats", false, "Print archive statistics and exit")
	openings := fs.Int("openings", 8, "Number of first moves to list")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if _, err := logging.Setup(os.Stderr, *logLevel, logging.DefaultFormat(os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	roots := parseDataRoots(*dataDirs)
	srv := NewServer(roots, *refresh)
	defer srv.dbCache.Close()

	if *statsOnly {
		db, err := srv.dbCache.Get()
		if err != nil {
			log.Fatal().Err(err).Msg("open archive")
		}
		st, err := queryStats(context.Background(), db, *openings)
		if err != nil {
			log.Fatal().Err(err).Msg("query stats")
		}
		printStats(os.Stdout, st)
		return
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", *listen).Strs("roots", roots).Msg("viewer API listening")
	if err := httpSrv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("viewer stopped")
	}
}

func printStats(w io.Writer, st StatsResponse) {
	fmt.Fprintf(w, "games:        %d\n", st.Games)
	fmt.Fprintf(w, "rows:         %d\n", st.Rows)
	fmt.Fprintf(w, "avg turns:    %.1f\n", st.AvgTurns)
	fmt.Fprintf(w, "avg think ms: %.1f\n", st.AvgThinkMs)
	fmt.Fprintf(w, "avg visits:   %.0f\n", st.AvgVisits)
	fmt.Fprintln(w, "wins:")
	for _, p := range st.Players {
		fmt.Fprintf(w, "  %s  %6d  %5.1f%%\n", p.Player, p.Wins, 100*p.WinRate)
	}
	fmt.Fprintln(w, "first moves:")
	for _, o := range st.Openings {
		fmt.Fprintf(w, "  %-10s %6d  mover wins %5.1f%%\n", o.Move, o.Games, 100*o.MoverWins)
	}
}
