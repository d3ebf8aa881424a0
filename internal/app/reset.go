package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Reset deletes persisted state documents so the next run records a fresh
// baseline without sending notifications.
func (a *App) Reset(ctx context.Context, opts ResetOptions) error {
	if !opts.Scan && !opts.Delta {
		opts.Scan = true
		opts.Delta = true
	}

	if opts.Scan {
		if err := removeStateFile(a.Config.State.Path); err != nil {
			return err
		}
		a.Logger.Info().Str("path", a.Config.State.Path).Msg("detector state reset")
	}
	if opts.Delta {
		if err := removeStateFile(a.Config.State.DeltaPath); err != nil {
			return err
		}
		a.Logger.Info().Str("path", a.Config.State.DeltaPath).Msg("delta snapshot reset")
	}
	return nil
}

func removeStateFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
