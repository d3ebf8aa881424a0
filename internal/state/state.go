package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind identifies which stall rule a pending timer belongs to.
type RuleKind string

const (
	// RuleZeroRevenue is the "clicks with zero revenue for the day" rule.
	RuleZeroRevenue RuleKind = "zero_revenue"
	// RuleStalledRevenue is the "clicks keep coming but revenue stalled" rule.
	RuleStalledRevenue RuleKind = "stalled_revenue"
)

// SnapshotEntry holds the per-offer counters observed at the previous cycle.
// BaselineClicks is the click counter at the most recent revenue-increasing
// cycle; it only advances when revenue increases, while Clicks and Revenue
// are overwritten every cycle.
type SnapshotEntry struct {
	Clicks         int64           `json:"clicks"`
	Revenue        decimal.Decimal `json:"revenue"`
	BaselineClicks int64           `json:"baselineClicks"`
}

// Document is the composite persisted state of the stall detector. Keeping
// the three collections in one document lets the store replace them
// atomically, so the sent set can never be written without its timers.
type Document struct {
	TrackingDate string `json:"trackingDate"`
	// Sent holds offer ids already alerted during the current tracking day.
	Sent []string `json:"sent"`
	// Pending maps offer id to rule kind to firstObservedAt, unix seconds.
	Pending map[string]map[RuleKind]float64 `json:"pending"`
	// Snapshot maps offer id to the previous cycle's counters.
	Snapshot map[string]SnapshotEntry `json:"snapshot"`
}

// NewDocument returns an empty state document.
func NewDocument() *Document {
	return &Document{
		Sent:     []string{},
		Pending:  map[string]map[RuleKind]float64{},
		Snapshot: map[string]SnapshotEntry{},
	}
}

func (d *Document) ensureMaps() {
	if d.Pending == nil {
		d.Pending = map[string]map[RuleKind]float64{}
	}
	if d.Snapshot == nil {
		d.Snapshot = map[string]SnapshotEntry{}
	}
}

// IsSent reports whether the offer already fired during the current day.
func (d *Document) IsSent(offerID string) bool {
	for _, id := range d.Sent {
		if id == offerID {
			return true
		}
	}
	return false
}

// MarkSent records the offer as alerted and drops its timers.
func (d *Document) MarkSent(offerID string) {
	if !d.IsSent(offerID) {
		d.Sent = append(d.Sent, offerID)
	}
	d.ClearPending(offerID)
}

// PendingSince returns the firstObservedAt for the offer's timer under the
// given rule, creating it at now when absent. The stored instant is never
// reset while the triggering condition holds.
func (d *Document) PendingSince(offerID string, rule RuleKind, now time.Time) time.Time {
	d.ensureMaps()
	timers := d.Pending[offerID]
	if timers == nil {
		timers = map[RuleKind]float64{}
		d.Pending[offerID] = timers
	}
	if at, ok := timers[rule]; ok {
		return unixFloatToTime(at)
	}
	at := timeToUnixFloat(now)
	timers[rule] = at
	return unixFloatToTime(at)
}

// ClearPendingRule discards the offer's timer for one rule, if any.
func (d *Document) ClearPendingRule(offerID string, rule RuleKind) {
	timers, ok := d.Pending[offerID]
	if !ok {
		return
	}
	delete(timers, rule)
	if len(timers) == 0 {
		delete(d.Pending, offerID)
	}
}

// ClearPending discards every timer held for the offer.
func (d *Document) ClearPending(offerID string) {
	delete(d.Pending, offerID)
}

// SetSnapshot overwrites the offer's previous-cycle counters.
func (d *Document) SetSnapshot(offerID string, entry SnapshotEntry) {
	d.ensureMaps()
	d.Snapshot[offerID] = entry
}

// Rollover clears the dedup set and all pending timers when the tracking
// day changed, keeping snapshots as the next cycle's delta baseline.
// Repeated calls within the same day are no-ops.
func (d *Document) Rollover(today string) bool {
	if d.TrackingDate == today {
		return false
	}
	d.TrackingDate = today
	d.Sent = []string{}
	d.Pending = map[string]map[RuleKind]float64{}
	return true
}

// Timers are stored as unix float seconds. Whole seconds are exact in a
// float64 while nanosecond fractions are not, so writes truncate to the
// second; the waits they guard are measured in hours. Reads still accept
// fractional values.
func timeToUnixFloat(t time.Time) float64 {
	return float64(t.Unix())
}

func unixFloatToTime(v float64) time.Time {
	sec := int64(v)
	frac := v - float64(sec)
	return time.Unix(sec, int64(frac*float64(time.Second)))
}
