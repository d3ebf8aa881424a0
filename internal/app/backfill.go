package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offer-stall-alerts/internal/service"
	"offer-stall-alerts/internal/voluum"
)

// Backfill replays historical report hours into the metric sample store,
// so exports and analysis have data from before the service was deployed.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Step <= 0 {
		opts.Step = time.Hour
	}
	if opts.Step < time.Hour {
		return errors.New("--step must be at least one hour; the report API resolves whole hours")
	}
	if !a.Config.Voluum.HasVoluumCredentials() {
		return voluum.ErrNoCredentials
	}

	start := alignForward(opts.From.UTC(), opts.Step)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("backfill window is empty; check --from/--to")
	}

	deps := service.Deps{Client: a.newVoluumClient()}
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		deps.Samples = store
	}

	svc := service.New(deps, a.Logger)
	result, err := svc.RunBackfill(ctx, start, end, opts.Step, opts.DryRun)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("buckets", result.Buckets).Int("failed", result.Failed).
		Int("samples", result.Samples).Msg("backfill finished")
	if result.Failed > 0 {
		return fmt.Errorf("%d backfill buckets failed; check the logs", result.Failed)
	}
	return nil
}

func alignForward(t time.Time, step time.Duration) time.Time {
	truncated := t.Truncate(step)
	if truncated.Before(t) {
		return truncated.Add(step)
	}
	return truncated
}
