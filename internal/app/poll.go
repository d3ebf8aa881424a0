package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"offer-stall-alerts/internal/scheduler"
)

// Poll runs the delta-notification loop: every interval, diff the campaign
// report against the persisted snapshot and notify new conversions.
func (a *App) Poll(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeStore, err := a.newService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting delta poller")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := svc.RunPollCycle(ctx)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("poller terminated with error")
		return err
	}

	a.Logger.Info().Msg("delta poller stopped")
	return nil
}
