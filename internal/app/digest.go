package app

import (
	"context"
	"fmt"
	"os"
)

// Digest sends the most recently updated converting campaigns to the chat.
func (a *App) Digest(ctx context.Context, opts DigestOptions) error {
	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Digest.Limit
	}

	svc, closeStore, err := a.newService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sent, err := svc.RunDigest(ctx, limit)
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	if sent == 0 {
		fmt.Fprintln(os.Stdout, "no converting campaigns found")
		return nil
	}

	fmt.Fprintf(os.Stdout, "sent %d digest messages\n", sent)
	return nil
}
