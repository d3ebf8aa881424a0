package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"offer-stall-alerts/internal/webhook"
)

// Serve runs the postback relay HTTP server. The stall scanner is exposed
// through the secret-gated /cron/scan endpoint so an external cron can
// drive detection cycles.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	var scanner webhook.ScanRunner
	svc, closeStore, err := a.newService(ctx)
	if err == nil {
		scanner = svc
		if closeStore != nil {
			defer closeStore()
		}
	} else {
		// The relay still works without tracker credentials; only the cron
		// trigger is unavailable.
		a.Logger.Warn().Err(err).Msg("stall scanner unavailable; /cron/scan disabled")
	}

	if a.Config.Server.CronSecret == "" {
		a.Logger.Warn().Msg("server.cron_secret not configured; /cron/scan will reject all requests")
	}

	server := webhook.NewServer(a.Config.Server, a.Config.App.Name, notifier, scanner, a.Logger)

	a.Logger.Info().Msg("starting postback relay")
	err = server.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("relay terminated with error")
		return err
	}

	a.Logger.Info().Msg("postback relay stopped")
	return nil
}
