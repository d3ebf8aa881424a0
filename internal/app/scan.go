package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Scan runs exactly one stalled-offer detection cycle and prints the
// result, for cron or manual invocation.
func (a *App) Scan(ctx context.Context) error {
	svc, closeStore, err := a.newService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	result, err := svc.RunScanCycle(ctx)
	if err != nil {
		return fmt.Errorf("scan cycle: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
