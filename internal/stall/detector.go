package stall

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offer-stall-alerts/internal/state"
)

// OfferMetric holds the per-offer counters derived from one report row.
// Clicks and Revenue are cumulative for the tracking day.
type OfferMetric struct {
	ID      string
	Name    string
	Country string
	Clicks  int64
	Revenue decimal.Decimal
}

// Thresholds hold the two rules' click floors and wait periods.
type Thresholds struct {
	ClickThresholdLow  int64
	WaitLow            time.Duration
	ClickThresholdHigh int64
	WaitHigh           time.Duration
}

// DefaultThresholds returns the stock rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ClickThresholdLow:  60,
		WaitLow:            90 * time.Minute,
		ClickThresholdHigh: 125,
		WaitHigh:           time.Hour,
	}
}

// Alert describes one offer that fired this cycle.
type Alert struct {
	Offer OfferMetric
	Rule  state.RuleKind
	// ClicksSinceRevenue is the click delta versus the last
	// revenue-increasing cycle. Zero for the zero-revenue rule.
	ClicksSinceRevenue int64
	// PendingSince is when the triggering condition was first observed.
	PendingSince time.Time
}

// Detector applies the two stall rules against current metrics and the
// persisted state document, producing the offers that fire this cycle.
type Detector struct {
	thresholds Thresholds
	logger     zerolog.Logger
}

// NewDetector constructs the rule evaluator.
func NewDetector(thresholds Thresholds, logger zerolog.Logger) *Detector {
	return &Detector{
		thresholds: thresholds,
		logger:     logger.With().Str("component", "stall_detector").Logger(),
	}
}

// Evaluate runs one detection cycle. It mutates doc in place: timers are
// created or discarded, fired offers join the sent set, and every offer
// present in metrics gets its snapshot overwritten. At most one alert
// fires per offer, and offers already in the sent set are skipped until
// the next day rollover.
func (d *Detector) Evaluate(now time.Time, metrics []OfferMetric, doc *state.Document) []Alert {
	alerts := make([]Alert, 0)

	for _, m := range metrics {
		if m.ID == "" {
			continue
		}

		snap, hasSnap := doc.Snapshot[m.ID]
		if hasSnap && m.Clicks < snap.Clicks {
			// The cumulative counter went backwards: the platform started a
			// new tracking day. Yesterday's snapshot is not a usable
			// baseline, so the offer restarts from current values.
			d.logger.Debug().Str("offer_id", m.ID).Int64("clicks", m.Clicks).
				Int64("snapshot_clicks", snap.Clicks).Msg("click counter reset; rebasing offer")
			hasSnap = false
			doc.ClearPending(m.ID)
		}

		if doc.IsSent(m.ID) {
			doc.SetSnapshot(m.ID, nextSnapshot(m, snap, hasSnap))
			continue
		}

		fired := false

		// Rule 1: click volume with zero revenue for the day.
		if m.Clicks >= d.thresholds.ClickThresholdLow && m.Revenue.IsZero() {
			since := doc.PendingSince(m.ID, state.RuleZeroRevenue, now)
			if now.Sub(since) >= d.thresholds.WaitLow {
				alerts = append(alerts, Alert{Offer: m, Rule: state.RuleZeroRevenue, PendingSince: since})
				doc.MarkSent(m.ID)
				fired = true
			}
		} else {
			doc.ClearPendingRule(m.ID, state.RuleZeroRevenue)
		}

		// Rule 2: revenue stalled despite continuing clicks. Only offers
		// with positive prior revenue qualify.
		if !fired && hasSnap && snap.Revenue.IsPositive() {
			if m.Revenue.GreaterThan(snap.Revenue) {
				doc.ClearPendingRule(m.ID, state.RuleStalledRevenue)
			} else {
				clicksSince := m.Clicks - snap.BaselineClicks
				if clicksSince >= d.thresholds.ClickThresholdHigh {
					since := doc.PendingSince(m.ID, state.RuleStalledRevenue, now)
					if now.Sub(since) >= d.thresholds.WaitHigh {
						alerts = append(alerts, Alert{
							Offer:              m,
							Rule:               state.RuleStalledRevenue,
							ClicksSinceRevenue: clicksSince,
							PendingSince:       since,
						})
						doc.MarkSent(m.ID)
					}
				} else {
					doc.ClearPendingRule(m.ID, state.RuleStalledRevenue)
				}
			}
		} else if !fired {
			doc.ClearPendingRule(m.ID, state.RuleStalledRevenue)
		}

		doc.SetSnapshot(m.ID, nextSnapshot(m, snap, hasSnap))
	}

	return alerts
}

// nextSnapshot overwrites the raw counters every cycle but only advances
// the since-last-revenue click baseline when revenue actually increased.
func nextSnapshot(m OfferMetric, snap state.SnapshotEntry, hasSnap bool) state.SnapshotEntry {
	baseline := m.Clicks
	if hasSnap && !m.Revenue.GreaterThan(snap.Revenue) {
		baseline = snap.BaselineClicks
	}
	return state.SnapshotEntry{
		Clicks:         m.Clicks,
		Revenue:        m.Revenue,
		BaselineClicks: baseline,
	}
}
