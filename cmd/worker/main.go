package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/server"
	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger/console"
)

// The worker prefetches the configured query into the document cache so
// that server startups only hit the archive for new papers.
func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg, err := server.LoadFetchConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if cfg.CacheBackend == server.CacheNone {
		logger.Fatal("CACHE_BACKEND must be file or s3 for prefetching")
	}

	cache, err := server.NewCache(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open document cache", "err", err)
	}

	tracker := util.NewProgressTracker()
	tracker.SetStage(util.BuildStageFetching)
	fetcher := server.NewFetcher(cfg, cache, tracker)

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				p := tracker.Snapshot()
				if p.Step != nil {
					logger.Info("Prefetch progress", "papers", p.Step.Fetching, "percentage", p.Percentage)
				}
			}
		}
	}()

	start := time.Now()
	docs, err := fetcher.Fetch(ctx, cfg.Query, cfg.MaxResults)
	close(done)
	if err != nil {
		logger.Fatal("Prefetch failed", "query", cfg.Query, "err", err)
	}

	logger.Info("Prefetch finished",
		"query", cfg.Query,
		"documents", len(docs),
		"backend", cfg.CacheBackend,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
