// Package app wires the configured backends and runs one of the modes:
// collect (live feed into experience batches), full (collect plus training
// after every flush) or train (offline training from the archive).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tickrl/internal/config"
	"github.com/alanyoungcy/tickrl/internal/notify"
)

const notifyTimeout = 10 * time.Second

// App owns the configuration, the logger and the cleanup stack.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("market", a.cfg.Feed.Market),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case config.ModeCollect:
		err = a.CollectMode(ctx, deps)
	case config.ModeFull:
		err = a.FullMode(ctx, deps)
	case config.ModeTrain:
		err = a.TrainMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.announceExit(ctx, deps.Notifier, err)
	return err
}

func (a *App) announceExit(ctx context.Context, n *notify.Notifier, err error) {
	if !n.Enabled() || (a.cfg.Mode == config.ModeTrain && err == nil) {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	title := fmt.Sprintf("tickrl %s %s", a.cfg.Mode, a.cfg.Feed.Market)
	event, msg := notify.EventStopped, "stopped"
	if err != nil && !errors.Is(err, context.Canceled) {
		event, msg = notify.EventFailed, err.Error()
	}
	_ = n.Notify(nctx, event, title, msg)
}

// Close runs cleanups in reverse order. Repeated calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
