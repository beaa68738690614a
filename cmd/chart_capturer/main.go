package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgnsrekt/chartshot/internal/app"
	"github.com/dgnsrekt/chartshot/internal/config"
	"github.com/dgnsrekt/chartshot/internal/report"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		return 1
	}

	if err := cfg.RequireSymbols(); err != nil {
		slog.Error("nothing to capture", "error", err)
		return 1
	}

	slog.Info("chart_capturer config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"backend", cfg.Backend,
		"start_url", cfg.StartURL,
		"symbols", len(cfg.Symbols),
		"timeout_ms", cfg.TimeoutMS,
		"run_timeout_ms", cfg.RunTimeoutMS,
		"policy", cfg.Policy,
		"storage", cfg.Storage,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to start capture pipeline", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Debug("app close failed", "error", err)
		}
	}()

	rep, err := a.Service.Run(ctx, nil)
	if err != nil {
		slog.Error("capture run rejected", "error", err)
		return 1
	}
	fmt.Println(report.Summary(rep))

	if rep.Status != report.StatusCompleted {
		return 1
	}
	return 0
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
