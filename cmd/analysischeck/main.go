package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-puzzle/internal/config"
	"github.com/park285/cheese-puzzle/internal/obslog"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/puzzlebuilder"
	"github.com/park285/cheese-puzzle/internal/rules"
)

// analysischeck asks the configured analysis chain for the best move of each
// FEN given on the command line (or stdin, one per line) and prints JSON.
func main() {
	timeout := flag.Duration("timeout", 0, "per-position timeout (default ANALYSIS_TIMEOUT_MS)")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cfg, err := appcfg.Read()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *timeout <= 0 {
		*timeout = time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond
	}

	input := strings.Join(flag.Args(), "\n")
	if strings.TrimSpace(input) == "" {
		raw, err := readStdin()
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		input = raw
	}
	parsed, err := corepuzzle.ParsePositionSet(input)
	if err != nil {
		log.Fatalf("parse: %v", err)
	}
	for _, d := range parsed.Discards {
		logger.Warn("position_discarded", zap.Int("line", d.Line), zap.String("reason", d.Reason))
	}

	engine := rules.New()
	analyzer, stockfish, err := puzzlebuilder.BuildAnalyzer(cfg, engine, logger)
	if err != nil {
		log.Fatalf("analyzer init error: %v", err)
	}
	if stockfish != nil {
		defer func() { _ = stockfish.Close() }()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := 0
	for _, pos := range parsed.Set.Positions {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		started := time.Now()
		sug, err := analyzer.BestMove(ctx, pos.FEN)
		cancel()
		out := map[string]any{"fen": pos.FEN, "elapsed_ms": time.Since(started).Milliseconds()}
		if err != nil {
			failed++
			out["error"] = err.Error()
		} else {
			out["suggestion"] = sug
		}
		if err := enc.Encode(out); err != nil {
			log.Fatalf("encode: %v", err)
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d positions failed\n", failed, len(parsed.Set.Positions))
		os.Exit(1)
	}
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	raw, err := io.ReadAll(os.Stdin)
	return string(raw), err
}
