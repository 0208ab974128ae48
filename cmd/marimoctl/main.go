package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marimo-team/kernelclient/internal/config"
	"github.com/marimo-team/kernelclient/internal/history"
	"github.com/marimo-team/kernelclient/internal/kernel"
	"github.com/marimo-team/kernelclient/internal/runtime"
	"github.com/marimo-team/kernelclient/internal/status"
)

func main() {
	cfg := config.DefaultConfig()
	var (
		fileKey = flag.String("file", "", "notebook file key to attach to")
		debug   = flag.Bool("debug", false, "enable debug logging")
		noHist  = flag.Bool("no-history", false, "disable run history recording")
	)
	flag.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "backend base URL")
	flag.BoolVar(&cfg.Static, "static", cfg.Static, "static mode: no kernel, stub transport")
	flag.BoolVar(&cfg.AutoInstantiate, "auto-instantiate", cfg.AutoInstantiate, "run the notebook on connect")
	flag.StringVar(&cfg.HistoryDBPath, "history-db", cfg.HistoryDBPath, "run history SQLite path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(*debug)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	rt, err := runtime.NewManager(cfg, logger.Named("runtime"))
	if err != nil {
		fatal(err)
	}

	identity := runtime.NewSessionIdentity(*fileKey, time.Now().UTC())

	var recorder *history.Recorder
	if !*noHist && !cfg.Static {
		recorder, err = history.Open(ctx, cfg.HistoryDBPath, identity.Fingerprint())
		if err != nil {
			fatal(err)
		}
		defer recorder.Close() //nolint:errcheck
		if cfg.HistoryRetention > 0 {
			cutoff := time.Now().UTC().Add(-cfg.HistoryRetention)
			if n, err := recorder.Prune(ctx, cutoff); err != nil {
				logger.Warn("prune history", zap.Error(err))
			} else if n > 0 {
				logger.Debug("pruned history rows", zap.Int64("rows", n))
			}
		}
	}

	deps := kernel.Deps{
		Config:    cfg,
		Runtime:   rt,
		SessionID: identity.SessionID,
		Logger:    logger.Named("kernel"),
	}
	if recorder != nil {
		deps.Recorder = recorder
	}
	mgr := kernel.NewManager(deps)

	unsubscribe := mgr.Status().Subscribe(func(st status.ConnectionStatus) {
		fields := []zap.Field{zap.String("state", string(st.State))}
		if st.State == status.StateClosed {
			fields = append(fields,
				zap.String("code", string(st.Code)),
				zap.String("reason", st.Reason),
				zap.Bool("can_takeover", st.CanTakeover))
		}
		logger.Info("connection status", fields...)
	})
	defer unsubscribe()

	if err := mgr.Start(ctx); err != nil {
		fatal(err)
	}

	<-ctx.Done()
	if err := mgr.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("close connection", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "marimoctl: %v\n", err)
	os.Exit(1)
}
