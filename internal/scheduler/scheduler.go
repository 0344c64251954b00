// Package scheduler drives the periodic refresh and backfill cycles.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"TickSentinel/internal/fetch"
	"TickSentinel/internal/resolution"
	"TickSentinel/internal/strategy"
)

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron    *cron.Cron
	Engine  *strategy.Engine
	Fetcher *fetch.HistoricalFetcher
	Symbols []string
	Ctx     context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, engine *strategy.Engine, fetcher *fetch.HistoricalFetcher, symbols []string) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Engine:  engine,
		Fetcher: fetcher,
		Symbols: symbols,
		Ctx:     ctx,
	}
}

// RegisterAll registers the refresh and precache tasks.
func (s *Scheduler) RegisterAll(refreshCron, precacheCron string) error {
	if _, err := s.Cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if _, err := s.Cron.AddFunc(precacheCron, s.precacheTask); err != nil {
		return fmt.Errorf("register precache task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunPrecacheNow executes the precache task immediately (for RUN_ON_START).
func (s *Scheduler) RunPrecacheNow() {
	s.precacheTask()
}

// refreshTask re-evaluates every known symbol at its last price. Symbols
// degraded by fetch exhaustion in an earlier cycle get retried here because
// their freshness markers were never set.
func (s *Scheduler) refreshTask() {
	log.Println("[INFO] running signal refresh cycle")
	verdicts := s.Engine.AnalyzeCurrentData(s.Ctx)
	log.Printf("[INFO] refresh cycle complete: %d verdicts", len(verdicts))
}

// precacheTask warms the daily partitions for the whole basket with
// bounded parallelism, so the first tick of the session doesn't pay the
// hydration cost.
func (s *Scheduler) precacheTask() {
	log.Printf("[INFO] precaching daily history for %d symbols", len(s.Symbols))
	results := s.Fetcher.FetchBatch(s.Ctx, s.Symbols, resolution.Daily, 300, 200, 3)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Printf("[WARN] precache %s: %v", r.Symbol, r.Err)
		}
	}
	log.Printf("[INFO] precache complete: %d ok, %d failed", len(results)-failed, failed)
}
