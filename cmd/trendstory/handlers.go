package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sudoghut/trendstory/internal/config"
	"github.com/sudoghut/trendstory/internal/logging"
	"github.com/sudoghut/trendstory/internal/pipeline"
	"github.com/sudoghut/trendstory/internal/sitemap"
	"github.com/sudoghut/trendstory/internal/store"
	"github.com/sudoghut/trendstory/internal/supervisor"
	"github.com/sudoghut/trendstory/pkg/alert"
	"github.com/sudoghut/trendstory/pkg/comfy"
	"github.com/sudoghut/trendstory/pkg/generate"
	"github.com/sudoghut/trendstory/pkg/server"
	"github.com/sudoghut/trendstory/pkg/trends"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildProvider(cfg *config.Config) trends.Provider {
	if cfg.Trends.MockFile != "" {
		return &trends.FileProvider{Path: cfg.Trends.MockFile}
	}
	return trends.NewClient(cfg.Trends.Engine, cfg.Trends.Geo, cfg.Trends.APIKey, "")
}

func buildPipeline(cfg *config.Config, log *logging.Logger) *pipeline.Pipeline {
	gateway := generate.NewGateway(
		generate.NewClient(cfg.Generate.URL),
		cfg.Generate.MaxAttempts,
		cfg.Generate.ParseShortWait(),
		cfg.Generate.ParseLongWait(),
		log.Infof,
	)
	renderer := comfy.NewClient(cfg.Comfy.ServerAddress, cfg.Comfy.ParseWaitTimeout())
	return pipeline.New(cfg, log, buildProvider(cfg), gateway, renderer)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSupervised() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return supervisor.ExitConfigError
	}

	log := logging.New(cfg.Run.LogDir)
	defer log.Close()

	ctx, cancel := signalContext()
	defer cancel()

	notifier := alert.FromSettings(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret,
		cfg.Notify.DiscordURL, cfg.Notify.SlackURL)
	sup := supervisor.New(cfg, log, buildPipeline(cfg, log), supervisor.NewGitSync(cfg, log), notifier)
	return sup.Run(ctx)
}

func runGenerate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Run.LogDir)
	defer log.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := buildPipeline(cfg, log).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("generated %d, skipped %d, failed %d\n", stats.Generated, stats.Skipped, stats.Failed)
	return nil
}

func runFetch() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	records, err := buildProvider(cfg).Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch trends: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	batchDate := time.Now().Format(store.DateFormat)
	topics := make([]store.Topic, len(records))
	for i, r := range records {
		topics[i] = pipeline.TopicFromRecord(r, batchDate)
	}

	n, err := db.InsertTopics(ctx, topics)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d topics for batch %s\n", n, batchDate)
	return nil
}

func runSitemap() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	dates, err := db.DistinctNarrativeDates(ctx)
	db.Close()
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(cfg.Site.SitemapPath)
	if err != nil {
		existing = nil
	}

	entries := sitemap.Merge(existing, dates, cfg.Site.BaseURL, time.Now())
	if err := sitemap.WriteFile(cfg.Site.SitemapPath, entries); err != nil {
		return err
	}
	fmt.Printf("sitemap rewritten with %d entries\n", len(entries))
	return nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	srv := server.New(db, cfg.Pipeline.ImagesDir, cfg.Site.SitemapPath, cfg.Server.Port)
	return srv.ListenAndServe()
}
