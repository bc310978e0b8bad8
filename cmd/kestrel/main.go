// Kestrel - Disclosure compliance automation engine.
// Copyright (c) 2025 opensource-compliance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-compliance/kestrel/internal/aggregate"
	"github.com/opensource-compliance/kestrel/internal/api"
	"github.com/opensource-compliance/kestrel/internal/bus"
	"github.com/opensource-compliance/kestrel/internal/cache"
	"github.com/opensource-compliance/kestrel/internal/casestore"
	"github.com/opensource-compliance/kestrel/internal/detect"
	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/escalate"
	"github.com/opensource-compliance/kestrel/internal/exclusion"
	"github.com/opensource-compliance/kestrel/internal/orgdata"
	"github.com/opensource-compliance/kestrel/internal/pipeline"
	"github.com/opensource-compliance/kestrel/internal/repository"
	"github.com/opensource-compliance/kestrel/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Aggregate calculator and rule evaluator
	calc := aggregate.NewCalculator(repo, cfg.Compliance.FiscalYearStartMonth)
	eval, err := rules.NewEvaluator(calc, 100)
	if err != nil {
		slog.Error("failed to initialize rule evaluator", "error", err)
		os.Exit(1)
	}
	slog.Info("rule evaluator initialized", "base_currency", cfg.Compliance.BaseCurrency)

	// Organization reference data with a read-through cache
	orgCtx := orgdata.New(repo, cacheImpl, cfg.Cache.LocalTTL)

	// Conflict detector registry
	registry := detect.NewRegistry(cfg.Compliance.DetectorTimeout,
		detect.NewSelfDealingDetector(repo, 0),
		detect.NewVendorMatchDetector(),
		detect.NewApprovalAuthorityDetector(),
		detect.NewPriorCaseDetector(),
		detect.NewHRMatchDetector(),
		detect.NewGiftAggregateDetector(calc, cfg.Compliance.GiftConflictThreshold, cfg.Compliance.GiftConflictWindowDays),
		detect.NewRelationshipPatternDetector(repo, cfg.Compliance.RelationshipWindowDays, cfg.Compliance.RelationshipMinPersons),
	)
	slog.Info("detector registry initialized", "timeout", cfg.Compliance.DetectorTimeout)

	// Escalation path: embedded case store plus the at-least-once retry loop.
	// An external case subsystem replaces casestore by implementing
	// domain.CaseCreator.
	creator := casestore.New(repo)
	esc := escalate.NewTrigger(repo, creator, busImpl, calc)
	go esc.Start(ctx, cfg.Compliance.EscalationRetryInterval)
	slog.Info("escalation trigger initialized",
		"retry_interval", cfg.Compliance.EscalationRetryInterval)

	// Evaluation pipeline
	excl := exclusion.NewFilter(repo)
	pipe := pipeline.New(repo, busImpl, eval, registry, orgCtx, excl, esc)

	// Subscribe the pipeline to bus-submitted disclosures for the configured
	// organizations. Disclosures submitted over HTTP are processed in-line.
	if envOrgs := os.Getenv("KESTREL_ORGS"); envOrgs != "" {
		orgIDs := strings.Split(envOrgs, ",")
		for i := range orgIDs {
			orgIDs[i] = strings.TrimSpace(orgIDs[i])
		}
		if err := pipe.Start(orgIDs); err != nil {
			slog.Error("failed to start pipeline subscriptions", "error", err)
			os.Exit(1)
		}
	}

	// Retroactive rule runner
	retro := rules.NewRetroRunner(repo, eval,
		cfg.Compliance.RetroBatchSize, cfg.Compliance.RetroConcurrency)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eval, retro, pipe, esc, orgCtx, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := pipe.Stop(); err != nil {
		slog.Error("failed to stop pipeline", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║   Disclosure Compliance Automation        ║")
	fmt.Println("  ║   Every disclosure, every threshold.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /disclosures               - Submit a disclosure for evaluation")
	fmt.Println("    GET  /disclosures/{id}          - Get disclosure by ID")
	fmt.Println("    GET  /entities/{name}/disclosures - Entity timeline")
	fmt.Println("    GET  /rules                     - List threshold rules")
	fmt.Println("    PUT  /rules/{id}                - Create or version a rule")
	fmt.Println("    POST /rules/{id}/preview        - Preview a retroactive rule")
	fmt.Println("    POST /rules/{id}/apply          - Apply a retroactive rule")
	fmt.Println("    GET  /alerts                    - List conflict alerts")
	fmt.Println("    POST /alerts/{id}/dismiss       - Dismiss an alert")
	fmt.Println("    POST /alerts/{id}/escalate      - Escalate an alert to a case")
	fmt.Println("    GET  /exclusions                - List exclusions")
	fmt.Println("    POST /exclusions                - Record an exclusion")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
