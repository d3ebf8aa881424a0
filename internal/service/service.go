package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"offer-stall-alerts/internal/alerting"
	"offer-stall-alerts/internal/delta"
	"offer-stall-alerts/internal/stall"
	"offer-stall-alerts/internal/state"
	"offer-stall-alerts/internal/storage"
	"offer-stall-alerts/internal/voluum"
)

// ErrCycleInFlight is returned when a cycle is requested while another one
// is still running. Cycles are run-to-completion and never overlap.
var ErrCycleInFlight = errors.New("service: a cycle is already in flight")

// ReportFetcher covers the tracking-platform calls a cycle needs.
type ReportFetcher interface {
	Authenticate(ctx context.Context) (string, error)
	FetchReport(ctx context.Context, token string, groupBy voluum.GroupBy) ([]voluum.Row, error)
	FetchReportRange(ctx context.Context, token string, groupBy voluum.GroupBy, from, to time.Time) ([]voluum.Row, error)
}

// Deps bundle the collaborators of the Service.
type Deps struct {
	Client     ReportFetcher
	Detector   *stall.Detector
	Tracker    *delta.Tracker
	StateStore state.Store
	DeltaStore state.DeltaStore
	Notifier   alerting.Notifier

	// Optional history/audit backends; nil disables them.
	Samples storage.MetricSampleStore
	Audit   storage.AlertAuditStore
	Locker  storage.AdvisoryLocker
	LockKey int64
	// AuditRetention prunes audit entries older than this after each scan
	// cycle; zero keeps them forever.
	AuditRetention time.Duration
}

// Service orchestrates the scan, poll, and digest cycles.
type Service struct {
	deps   Deps
	logger zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New constructs the service.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// FiredAlert summarises one alert emitted during a scan cycle.
type FiredAlert struct {
	OfferID   string `json:"offerId"`
	OfferName string `json:"offerName"`
	Rule      string `json:"rule"`
	Delivered bool   `json:"delivered"`
}

// ScanResult is the observable outcome of one stall-scan cycle.
type ScanResult struct {
	At           time.Time    `json:"at"`
	TrackingDate string       `json:"trackingDate"`
	RolledOver   bool         `json:"rolledOver"`
	Offers       int          `json:"offers"`
	Pending      int          `json:"pending"`
	Fired        []FiredAlert `json:"fired"`
}

// RunScanCycle executes one full stalled-offer detection cycle: rollover
// check, state load, report fetch, rule evaluation, alert dispatch, state
// save. Auth or report failure aborts the cycle before any state is
// persisted; a notification failure only affects that offer's delivery.
func (s *Service) RunScanCycle(ctx context.Context) (*ScanResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer s.mu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil, ErrCycleInFlight
	}
	if unlock != nil {
		defer unlock()
	}

	now := s.now().UTC()
	today := now.Format("2006-01-02")

	doc, err := s.deps.StateStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	rolled := doc.Rollover(today)
	if rolled {
		s.logger.Info().Str("tracking_date", today).Msg("tracking day rolled over; dedup and timers cleared")
	}

	rows, err := s.fetchRows(ctx, voluum.GroupByOffer)
	if err != nil {
		// State stays untouched: nothing has been persisted yet.
		return nil, err
	}

	metrics := metricsFromRows(rows)
	alerts := s.deps.Detector.Evaluate(now, metrics, doc)

	result := &ScanResult{
		At:           now,
		TrackingDate: doc.TrackingDate,
		RolledOver:   rolled,
		Offers:       len(metrics),
		Pending:      len(doc.Pending),
		Fired:        make([]FiredAlert, 0, len(alerts)),
	}

	for _, alert := range alerts {
		delivered := s.dispatch(ctx, alert)
		result.Fired = append(result.Fired, FiredAlert{
			OfferID:   alert.Offer.ID,
			OfferName: alert.Offer.Name,
			Rule:      string(alert.Rule),
			Delivered: delivered,
		})
	}

	if err := s.deps.StateStore.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	s.recordSamples(ctx, now, metrics)
	s.pruneAudit(ctx, now)

	s.logger.Info().Int("offers", result.Offers).Int("fired", len(result.Fired)).
		Int("pending", result.Pending).Bool("rolled_over", rolled).Msg("scan cycle complete")
	return result, nil
}

// dispatch sends one stall alert. A delivery failure is logged and does
// not roll back the sent marker: at-most-once alerting wins over
// guaranteed delivery.
func (s *Service) dispatch(ctx context.Context, alert stall.Alert) bool {
	message := alerting.FormatStallAlert(alert)

	delivered := true
	if err := s.deps.Notifier.Notify(ctx, message); err != nil {
		delivered = false
		s.logger.Error().Err(err).Str("offer_id", alert.Offer.ID).
			Str("rule", string(alert.Rule)).Msg("failed to dispatch stall alert; offer stays marked as sent")
	}

	if s.deps.Audit != nil {
		record := storage.StallAlertRecord{
			FiredAt:            s.now().UTC(),
			OfferID:            alert.Offer.ID,
			OfferName:          alert.Offer.Name,
			Rule:               string(alert.Rule),
			Clicks:             alert.Offer.Clicks,
			ClicksSinceRevenue: alert.ClicksSinceRevenue,
			Message:            message,
			Delivered:          delivered,
		}
		if _, err := s.deps.Audit.InsertStallAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("offer_id", alert.Offer.ID).Msg("failed to persist alert audit record")
		}
	}

	return delivered
}

func (s *Service) recordSamples(ctx context.Context, now time.Time, metrics []stall.OfferMetric) {
	if s.deps.Samples == nil || len(metrics) == 0 {
		return
	}
	if err := s.deps.Samples.UpsertMetricSamples(ctx, samplesFromMetrics(now, metrics)); err != nil {
		s.logger.Error().Err(err).Msg("failed to record metric samples")
	}
}

// pruneAudit trims the fired-alert audit log to the configured retention.
// Best effort, like recordSamples: a failure never fails the cycle.
func (s *Service) pruneAudit(ctx context.Context, now time.Time) {
	if s.deps.Audit == nil || s.deps.AuditRetention <= 0 {
		return
	}
	cutoff := now.Add(-s.deps.AuditRetention)
	if err := s.deps.Audit.DeleteStallAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert audit log")
	}
}

// PollResult is the observable outcome of one delta-poll cycle.
type PollResult struct {
	At        time.Time `json:"at"`
	Campaigns int       `json:"campaigns"`
	Notified  int       `json:"notified"`
	FirstRun  bool      `json:"firstRun"`
}

// RunPollCycle executes one delta-poll cycle: fetch the campaign report,
// diff against the persisted snapshot, notify per increased campaign,
// persist the new snapshot.
func (s *Service) RunPollCycle(ctx context.Context) (*PollResult, error) {
	now := s.now().UTC()

	doc, err := s.deps.DeltaStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delta snapshot: %w", err)
	}
	firstRun := doc.Empty()

	rows, err := s.fetchRows(ctx, voluum.GroupByCampaign)
	if err != nil {
		return nil, err
	}

	notes := s.deps.Tracker.Diff(now, rows, doc)

	notified := 0
	for _, note := range notes {
		if err := s.deps.Notifier.Notify(ctx, alerting.FormatDelta(note)); err != nil {
			s.logger.Error().Err(err).Str("campaign", note.CampaignName).Msg("failed to send delta notification")
			continue
		}
		notified++
	}

	if err := s.deps.DeltaStore.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save delta snapshot: %w", err)
	}

	s.logger.Info().Int("campaigns", len(doc.Campaigns)).Int("notified", notified).
		Bool("first_run", firstRun).Msg("poll cycle complete")
	return &PollResult{At: now, Campaigns: len(doc.Campaigns), Notified: notified, FirstRun: firstRun}, nil
}

// RunDigest sends the most recently updated converting campaigns as
// one-line messages and returns how many were sent.
func (s *Service) RunDigest(ctx context.Context, limit int) (int, error) {
	rows, err := s.fetchRows(ctx, voluum.GroupByCampaign)
	if err != nil {
		return 0, err
	}

	converting := make([]voluum.Row, 0, len(rows))
	for _, row := range rows {
		if row.Conversions() > 0 {
			converting = append(converting, row)
		}
	}
	sort.SliceStable(converting, func(i, j int) bool {
		return converting[i].UpdatedAt() > converting[j].UpdatedAt()
	})

	if limit > 0 && len(converting) > limit {
		converting = converting[:limit]
	}

	sent := 0
	for _, row := range converting {
		line := alerting.FormatDigestLine(row.Revenue(), row.OfferName(), row.Country())
		if err := s.deps.Notifier.Notify(ctx, line); err != nil {
			s.logger.Error().Err(err).Str("campaign", row.OfferName()).Msg("failed to send digest line")
			continue
		}
		sent++
	}
	return sent, nil
}

// BackfillResult is the outcome of a historical sample backfill.
type BackfillResult struct {
	Buckets int `json:"buckets"`
	Failed  int `json:"failed"`
	Samples int `json:"samples"`
}

// RunBackfill replays historical report windows into the metric sample
// store: one bucket per step between from and to, each recording the
// offers' tracking-day counters as they stood at that hour. A failed
// bucket is counted and skipped; the rest proceed. With dryRun the rows
// are fetched and counted but nothing is written.
func (s *Service) RunBackfill(ctx context.Context, from, to time.Time, step time.Duration, dryRun bool) (*BackfillResult, error) {
	if !dryRun && s.deps.Samples == nil {
		return nil, storage.ErrNotConfigured
	}

	token, err := s.deps.Client.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	result := &BackfillResult{}
	for bucket := from.UTC(); bucket.Before(to.UTC()); bucket = bucket.Add(step) {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		n, err := s.backfillBucket(ctx, token, bucket, dryRun)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("backfill bucket failed")
			continue
		}
		result.Buckets++
		result.Samples += n
	}

	s.logger.Info().Int("buckets", result.Buckets).Int("failed", result.Failed).
		Int("samples", result.Samples).Msg("backfill complete")
	return result, nil
}

func (s *Service) backfillBucket(ctx context.Context, token string, bucket time.Time, dryRun bool) (int, error) {
	windowStart := bucket.Truncate(24 * time.Hour)
	if !windowStart.Before(bucket) {
		// A midnight bucket closes the previous tracking day.
		windowStart = bucket.Add(-24 * time.Hour)
	}

	rows, err := s.deps.Client.FetchReportRange(ctx, token, voluum.GroupByOffer, windowStart, bucket)
	if err != nil {
		return 0, err
	}

	samples := samplesFromMetrics(bucket, metricsFromRows(rows))
	if dryRun {
		return len(samples), nil
	}
	if err := s.deps.Samples.UpsertMetricSamples(ctx, samples); err != nil {
		return 0, err
	}
	return len(samples), nil
}

func (s *Service) fetchRows(ctx context.Context, groupBy voluum.GroupBy) ([]voluum.Row, error) {
	token, err := s.deps.Client.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	rows, err := s.deps.Client.FetchReport(ctx, token, groupBy)
	if err != nil {
		return nil, fmt.Errorf("fetch report: %w", err)
	}
	return rows, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.deps.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.deps.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func samplesFromMetrics(cycleTS time.Time, metrics []stall.OfferMetric) []storage.MetricSample {
	samples := make([]storage.MetricSample, 0, len(metrics))
	for _, m := range metrics {
		if m.ID == "" {
			continue
		}
		samples = append(samples, storage.MetricSample{
			CycleTS:   cycleTS,
			OfferID:   m.ID,
			OfferName: m.Name,
			Country:   m.Country,
			Clicks:    m.Clicks,
			Revenue:   m.Revenue,
		})
	}
	return samples
}

func metricsFromRows(rows []voluum.Row) []stall.OfferMetric {
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
	return metrics
}
