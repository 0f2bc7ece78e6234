package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/config"
	"github.com/bryan-buckman/pulse/internal/curate"
	"github.com/bryan-buckman/pulse/internal/database"
	"github.com/bryan-buckman/pulse/internal/extract"
	"github.com/bryan-buckman/pulse/internal/ingest"
	"github.com/bryan-buckman/pulse/internal/llm"
	"github.com/bryan-buckman/pulse/internal/logging"
	"github.com/bryan-buckman/pulse/internal/newsletter"
	"github.com/bryan-buckman/pulse/internal/opml"
	"github.com/bryan-buckman/pulse/internal/publisher"
	"github.com/bryan-buckman/pulse/internal/runner"
	"github.com/bryan-buckman/pulse/internal/scheduler"
	"github.com/bryan-buckman/pulse/internal/server"
	"github.com/bryan-buckman/pulse/internal/summarizer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	importOPML := flag.String("import-opml", "", "import sources from an OPML file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info", "console", os.Stderr).Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open database")
	}
	defer db.Close()
	logger.Info().Str("driver", db.DatabaseType()).Msg("database ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *importOPML != "" {
		f, err := os.Open(*importOPML)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open OPML file")
		}
		defer f.Close()
		res, err := opml.Import(ctx, db, f)
		if err != nil {
			logger.Fatal().Err(err).Msg("OPML import failed")
		}
		logger.Info().Int("imported", res.Imported).Int("skipped", res.Skipped).Msg("OPML import complete")
		return
	}

	// Build summarizer backends, primary first.
	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:  cfg.Generation.Gemini.APIKey,
		Model:   cfg.Generation.Gemini.Model,
		BaseURL: cfg.Generation.Gemini.BaseURL,
		Timeout: cfg.Generation.Timeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	openAI := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.Generation.OpenAI.APIKey,
		Model:   cfg.Generation.OpenAI.Model,
		BaseURL: cfg.Generation.OpenAI.BaseURL,
		Timeout: cfg.Generation.Timeout,
	})
	engine := summarizer.New(logging.Component(logger, "summarizer"), gemini, openAI)

	extractor := extract.New(extract.Config{
		Timeout:   cfg.Extractor.Timeout,
		UserAgent: cfg.Extractor.UserAgent,
		MaxBytes:  cfg.Extractor.MaxBytes,
	}, nil, logging.Component(logger, "extract"))

	ingester := ingest.New(ingest.Config{
		Timeout:   cfg.Feed.Timeout,
		UserAgent: cfg.Extractor.UserAgent,
	}, db, extractor, engine, nil, logging.Component(logger, "ingest"))

	curator := curate.New(engine, db, cfg.Digest.Title, logging.Component(logger, "curate"))

	pubs := buildPublishers(cfg, logger)

	nl := newsletter.New(newsletter.Config{
		Title: cfg.Digest.Title,
		Limit: cfg.Digest.Limit,
	}, db, curator, pubs, logging.Component(logger, "newsletter"))

	r := runner.New(ingester, nl, logging.Component(logger, "runner"))

	// Single-run mode: run the pipeline once and exit
	if *once {
		logger.Info().Msg("running digest (once mode)")
		if err := r.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("pipeline failed")
		}
		logger.Info().Msg("done")
		return
	}

	if cfg.Digest.RunOnStart {
		logger.Info().Msg("running initial digest")
		if err := r.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("initial run failed")
		}
	}

	sched, err := scheduler.New(ctx, cfg.Digest.Schedule, r.Run, logging.Component(logger, "scheduler"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up schedule")
	}
	sched.Start()
	logger.Info().Str("schedule", cfg.Digest.Schedule).Msg("scheduled digest")

	srv := server.New(server.Config{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: *cfg.Server.AllowCredentials,
	}, db, ingester, nl, logging.Component(logger, "server"))
	go func() {
		if err := srv.Start(cfg.Server.Addr); err != nil {
			logger.Error().Err(err).Msg("server stopped")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancel()
	<-sched.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}

func buildPublishers(cfg *config.Config, logger zerolog.Logger) []publisher.Publisher {
	var pubs []publisher.Publisher
	for _, t := range cfg.Publishers.Types {
		switch t {
		case "stdout":
			pubs = append(pubs, publisher.NewStdoutPublisher(os.Stdout))
		case "email":
			e := cfg.Publishers.Email
			pubs = append(pubs, publisher.NewEmailPublisher(publisher.EmailConfig{
				SMTPHost: e.SMTPHost,
				SMTPPort: e.SMTPPort,
				Username: e.Username,
				Password: e.Password,
				From:     e.From,
				To:       e.To,
			}))
		case "telegram":
			pubs = append(pubs, publisher.NewTelegramPublisher(publisher.TelegramConfig{
				Token:  cfg.Publishers.Telegram.Token,
				ChatID: cfg.Publishers.Telegram.ChatID,
			}, nil))
		default:
			logger.Fatal().Str("type", t).Msg("unknown publisher type")
		}
	}
	return pubs
}
