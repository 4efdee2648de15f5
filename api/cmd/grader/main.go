package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"exam-grader/api/internal/config"
	"exam-grader/api/internal/document"
	"exam-grader/api/internal/export"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/grading/gemini"
	"exam-grader/api/internal/grading/pipeline"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/retry"
	"exam-grader/api/internal/store"
	"exam-grader/api/internal/telegram"
)

const rule = "======================================================================"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("grader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to YAML config/secrets file (default ./"+config.DefaultFile+")")
	dataset := fs.String("dataset", "", "directory holding the exam PDFs")
	mode := fs.String("mode", "", "grading mode: single or pipeline")
	model := fs.String("model", "", "Gemini model id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dataset != "" {
		cfg.DatasetDir = *dataset
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *model != "" {
		cfg.GeminiModel = *model
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)

	fmt.Fprintln(stdout, "Exam Grading with Gemini")
	fmt.Fprintln(stdout, rule)
	fmt.Fprintf(stdout, "Model: %s\nMode:  %s\n", cfg.GeminiModel, cfg.Mode)
	for _, src := range cfg.Sources() {
		fmt.Fprintf(stdout, "%-15s %s\n", src.Kind.Label()+":", src.Path)
	}
	fmt.Fprintln(stdout)

	engine := gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.RetryPolicy(), prompt.Set{Dir: cfg.PromptDir}, logger)
	engine.Timeout = cfg.RequestTimeout

	grader := pipeline.New(engine, cfg.Sources(), grading.Mode(cfg.Mode), logger)

	if cfg.DatabaseURL != "" {
		db, repo, err := openCache(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		grader.Cache = repo
	}

	grader.Sinks = append(grader.Sinks, export.JSONSink{Path: cfg.ResultsPath})
	if cfg.XLSXPath != "" {
		grader.Sinks = append(grader.Sinks, export.XLSXSink{Path: cfg.XLSXPath})
	}
	if cfg.TelegramEnabled() {
		n, err := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram.disabled", slog.String("error", err.Error()))
		} else {
			grader.Sinks = append(grader.Sinks, n)
		}
	}

	res, err := grader.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, rule)
	fmt.Fprintln(stdout, "GRADING RESULTS")
	fmt.Fprintln(stdout, rule)
	fmt.Fprintln(stdout, res.Report)
	fmt.Fprintln(stdout, rule)
	if res.Scorecard != nil {
		fmt.Fprintf(stdout, "Score: %s\n", res.Scorecard.Summary())
	}
	if res.Cached {
		fmt.Fprintln(stdout, "(served from cache)")
	}
	if abs, err := filepath.Abs(cfg.ResultsPath); err == nil {
		fmt.Fprintf(stdout, "Results saved to: %s\n", abs)
	}
	return nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, *store.ReportRepo, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open report cache: %w", err)
	}
	repo := store.NewReportRepo(db, cfg.CacheMaxAge)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("prepare report cache: %w", err)
	}
	if cfg.CacheMaxAge > 0 {
		if n, err := repo.PurgeOlderThan(ctx, cfg.CacheMaxAge); err != nil {
			logger.Warn("cache.purge_failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("cache.purged", slog.Int64("rows", n))
		}
	}
	logger.Info("cache.enabled", slog.String("dsn", store.SafeDSNSummary(cfg.DatabaseURL)))
	return db, repo, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// describe turns the errors users hit most often into one actionable line.
func describe(err error) string {
	var docErr *document.Error
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &docErr) && errors.Is(err, document.ErrNotFound):
		return fmt.Sprintf("%s not found at %s", docErr.Kind.Label(), docErr.Path)
	case errors.As(err, &exhausted):
		return fmt.Sprintf("Gemini API still failing after %d attempts: %v", exhausted.Attempts, exhausted.Cause)
	case errors.Is(err, context.Canceled):
		return "interrupted"
	}
	return err.Error()
}
