package delta

import (
	"time"

	"github.com/rs/zerolog"

	"offer-stall-alerts/internal/alerting"
	"offer-stall-alerts/internal/state"
	"offer-stall-alerts/internal/voluum"
)

// Tracker diffs cumulative per-campaign counters against the persisted
// snapshot and produces one notification per campaign with new
// conversions or revenue.
type Tracker struct {
	logger zerolog.Logger
}

// NewTracker constructs a delta tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{logger: logger.With().Str("component", "delta_tracker").Logger()}
}

// Diff compares the report rows against doc and replaces doc.Campaigns
// with the current counters. On the first run (empty snapshot) only the
// baseline is recorded and no notifications are produced.
func (t *Tracker) Diff(now time.Time, rows []voluum.Row, doc *state.DeltaDocument) []alerting.DeltaNotification {
	firstRun := doc.Empty()
	current := map[string]state.CampaignStat{}
	notes := make([]alerting.DeltaNotification, 0)

	for _, row := range rows {
		id := row.OfferID()
		if id == "" {
			continue
		}

		stat := state.CampaignStat{
			Conversions: row.Conversions(),
			Revenue:     row.Revenue(),
		}
		current[id] = stat

		if firstRun {
			continue
		}

		prev := doc.Campaigns[id]
		deltaConv := stat.Conversions - prev.Conversions
		deltaRev := stat.Revenue.Sub(prev.Revenue)

		if deltaConv > 0 || deltaRev.IsPositive() {
			notes = append(notes, alerting.DeltaNotification{
				CampaignName:  row.OfferName(),
				Country:       row.Country(),
				TrafficSource: row.TrafficSource(),
				NewConv:       deltaConv,
				NewRevenue:    deltaRev,
				At:            now,
			})
		}
	}

	if firstRun {
		t.logger.Info().Int("campaigns", len(current)).Msg("first run: baseline recorded, no notifications")
	}

	doc.Campaigns = current
	return notes
}
