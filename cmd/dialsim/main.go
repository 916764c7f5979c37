// Command dialsim runs dial scenarios against the in-memory engine and
// prints what happened as JSON.
//
//	dialsim -loglevel info scenarios/fork.yaml scenarios/bridge.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/logger"
)

func main() {
	level := flag.String("loglevel", "warn", "Log level (debug, info, warn, error)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Maximum run time per scenario")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: dialsim [flags] scenario.yaml...")
		os.Exit(2)
	}

	logger.InitLogger(os.Stderr)
	logger.SetLevel(*level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := false
	for _, path := range flag.Args() {
		report, err := runFile(ctx, path, *timeout)
		if err != nil {
			slog.Error("Scenario failed", "file", path, "error", err)
			failed = true
			continue
		}
		if err := enc.Encode(report); err != nil {
			slog.Error("Write report", "error", err)
			os.Exit(1)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runFile(ctx context.Context, path string, timeout time.Duration) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc, err := LoadScenario(f)
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = path
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Run(ctx, sc, memory.WithLogger(slog.Default()))
}
