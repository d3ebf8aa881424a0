package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"offer-stall-alerts/internal/alerting"
	"offer-stall-alerts/internal/stall"
	"offer-stall-alerts/internal/state"
	"offer-stall-alerts/internal/voluum"
)

// Simulate replays a report fixture through the detector without touching
// the real state file. The fixture is evaluated twice, the configured wait
// period apart, so offers that would fire after their timer expires are
// visible in one run. With --send the resulting alerts are delivered.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	rows, err := loadReportFixture(opts.ReportPath)
	if err != nil {
		return err
	}

	metrics := make([]stall.OfferMetric, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, stall.OfferMetric{
			ID:      row.OfferID(),
			Name:    row.OfferName(),
			Country: row.Country(),
			Clicks:  row.Clicks(),
			Revenue: row.Revenue(),
		})
	}

	thresholds := a.thresholds()
	detector := stall.NewDetector(thresholds, a.Logger)

	doc := state.NewDocument()
	now := time.Now().UTC()
	doc.Rollover(now.Format("2006-01-02"))

	wait := thresholds.WaitLow
	if thresholds.WaitHigh > wait {
		wait = thresholds.WaitHigh
	}

	detector.Evaluate(now, metrics, doc)
	alerts := detector.Evaluate(now.Add(wait), metrics, doc)

	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no offers would alert")
		return nil
	}

	var notifier alerting.Notifier
	if opts.Send {
		notifier, err = a.newNotifier()
		if err != nil {
			return err
		}
	}

	for _, alert := range alerts {
		message := alerting.FormatStallAlert(alert)
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", alert.Offer.ID, alert.Rule, message)
		if notifier != nil {
			if err := notifier.Notify(ctx, message); err != nil {
				return fmt.Errorf("send simulated alert: %w", err)
			}
		}
	}
	return nil
}

// loadReportFixture reads rows from a JSON file holding either a bare row
// array or a {"rows": [...]} report payload.
func loadReportFixture(path string) ([]voluum.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report fixture: %w", err)
	}

	var rows []voluum.Row
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Rows []voluum.Row `json:"rows"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse report fixture: %w", err)
	}
	return wrapped.Rows, nil
}
