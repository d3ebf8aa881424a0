package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"offer-stall-alerts/internal/delta"
	"offer-stall-alerts/internal/stall"
	"offer-stall-alerts/internal/state"
	"offer-stall-alerts/internal/storage"
	"offer-stall-alerts/internal/voluum"
)

type fetchWindow struct {
	from time.Time
	to   time.Time
}

type fakeFetcher struct {
	rows       []voluum.Row
	authErr    error
	rowsErr    error
	groupBy    voluum.GroupBy
	authCalls  int
	rangeCalls []fetchWindow
}

func (f *fakeFetcher) Authenticate(ctx context.Context) (string, error) {
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "tok-1", nil
}

func (f *fakeFetcher) FetchReport(ctx context.Context, token string, groupBy voluum.GroupBy) ([]voluum.Row, error) {
	f.groupBy = groupBy
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.rows, nil
}

func (f *fakeFetcher) FetchReportRange(ctx context.Context, token string, groupBy voluum.GroupBy, from, to time.Time) ([]voluum.Row, error) {
	f.groupBy = groupBy
	f.rangeCalls = append(f.rangeCalls, fetchWindow{from: from, to: to})
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.rows, nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

type memoryDeltaStore struct {
	doc *state.DeltaDocument
}

func (s *memoryDeltaStore) Load(ctx context.Context) (*state.DeltaDocument, error) {
	if s.doc == nil {
		return state.NewDeltaDocument(), nil
	}
	return s.doc, nil
}

func (s *memoryDeltaStore) Save(ctx context.Context, doc *state.DeltaDocument) error {
	s.doc = doc
	return nil
}

type fakeSampleStore struct {
	batches [][]storage.MetricSample
	err     error
}

func (s *fakeSampleStore) UpsertMetricSamples(ctx context.Context, samples []storage.MetricSample) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, samples)
	return nil
}

func (s *fakeSampleStore) ListOfferSamples(ctx context.Context, offerID string, from, to time.Time) ([]storage.MetricSample, error) {
	return nil, nil
}

type fakeAuditStore struct {
	records      []storage.StallAlertRecord
	prunedBefore []time.Time
}

func (s *fakeAuditStore) InsertStallAlert(ctx context.Context, alert storage.StallAlertRecord) (storage.StallAlertRecord, error) {
	s.records = append(s.records, alert)
	return alert, nil
}

func (s *fakeAuditStore) ListRecentStallAlerts(ctx context.Context, limit int) ([]storage.StallAlertRecord, error) {
	return s.records, nil
}

func (s *fakeAuditStore) DeleteStallAlertsBefore(ctx context.Context, olderThan time.Time) error {
	s.prunedBefore = append(s.prunedBefore, olderThan)
	return nil
}

func offerRow(id, name string, clicks, revenue float64) voluum.Row {
	return voluum.Row{
		"offerId":               id,
		"offerName":             name,
		"campaignCountry":       "SE",
		"uniqueClicks":          clicks,
		"allConversionsRevenue": revenue,
	}
}

func newTestService(fetcher *fakeFetcher, notifier *fakeNotifier, store state.Store, deltaStore state.DeltaStore) *Service {
	return New(Deps{
		Client:     fetcher,
		Detector:   stall.NewDetector(stall.DefaultThresholds(), zerolog.Nop()),
		Tracker:    delta.NewTracker(zerolog.Nop()),
		StateStore: store,
		DeltaStore: deltaStore,
		Notifier:   notifier,
	}, zerolog.Nop())
}

func TestScanCycleArmsThenFires(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "SE - Casino X", 80, 0)}}
	notifier := &fakeNotifier{}
	store := state.NewMemoryStore()
	svc := newTestService(fetcher, notifier, store, &memoryDeltaStore{})

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	result, err := svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if fetcher.groupBy != voluum.GroupByOffer {
		t.Fatalf("scan must group by offer, got %q", fetcher.groupBy)
	}
	if len(result.Fired) != 0 {
		t.Fatalf("first cycle must only arm the timer, fired %v", result.Fired)
	}
	if result.TrackingDate != "2026-08-28" {
		t.Fatalf("tracking date: got %q", result.TrackingDate)
	}

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	result, err = svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(result.Fired) != 1 {
		t.Fatalf("want 1 fired alert, got %v", result.Fired)
	}
	fired := result.Fired[0]
	if fired.OfferID != "o1" || fired.Rule != string(state.RuleZeroRevenue) || !fired.Delivered {
		t.Fatalf("unexpected fired alert %+v", fired)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("want 1 notification, got %v", notifier.messages)
	}

	// The sent marker survives the round trip through the store.
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !doc.IsSent("o1") {
		t.Fatal("offer must be marked as sent after the alert")
	}
}

func TestScanCycleFetchFailureLeavesStateUntouched(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 80, 0)}}
	store := state.NewMemoryStore()
	svc := newTestService(fetcher, &fakeNotifier{}, store, &memoryDeltaStore{})

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	if _, err := svc.RunScanCycle(context.Background()); err != nil {
		t.Fatalf("arming cycle: %v", err)
	}

	fetcher.rowsErr = errors.New("voluum report error (500)")
	svc.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := svc.RunScanCycle(context.Background()); err == nil {
		t.Fatal("expected fetch error to abort the cycle")
	}

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(doc.Pending["o1"]) != 1 {
		t.Fatalf("pending timer must survive an aborted cycle, got %v", doc.Pending)
	}
}

func TestScanCycleAuthFailureAborts(t *testing.T) {
	fetcher := &fakeFetcher{authErr: errors.New("bad credentials")}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})

	if _, err := svc.RunScanCycle(context.Background()); err == nil {
		t.Fatal("expected auth failure to abort the cycle")
	}
}

func TestScanCycleNotifyFailureKeepsSentMarker(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 80, 0)}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	store := state.NewMemoryStore()
	svc := newTestService(fetcher, notifier, store, &memoryDeltaStore{})

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	if _, err := svc.RunScanCycle(context.Background()); err != nil {
		t.Fatalf("arming cycle: %v", err)
	}

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	result, err := svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("firing cycle: %v", err)
	}
	if len(result.Fired) != 1 || result.Fired[0].Delivered {
		t.Fatalf("alert should fire undelivered, got %v", result.Fired)
	}

	doc, _ := store.Load(context.Background())
	if !doc.IsSent("o1") {
		t.Fatal("delivery failure must not clear the sent marker")
	}

	// The next cycle must not retry the alert.
	notifier.err = nil
	svc.now = func() time.Time { return base.Add(3 * time.Hour) }
	result, err = svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if len(result.Fired) != 0 {
		t.Fatalf("sent offer must not re-alert, got %v", result.Fired)
	}
}

func TestScanCycleRollsOverAcrossDays(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 80, 0)}}
	store := state.NewMemoryStore()
	svc := newTestService(fetcher, &fakeNotifier{}, store, &memoryDeltaStore{})

	day1 := time.Date(2026, 8, 28, 22, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	if _, err := svc.RunScanCycle(context.Background()); err != nil {
		t.Fatalf("day one: %v", err)
	}

	svc.now = func() time.Time { return day1.Add(4 * time.Hour) }
	result, err := svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("day two: %v", err)
	}
	if !result.RolledOver {
		t.Fatal("expected rollover on the first cycle of the new day")
	}
	if result.TrackingDate != "2026-08-29" {
		t.Fatalf("tracking date: got %q", result.TrackingDate)
	}
	if len(result.Fired) != 0 {
		t.Fatalf("timers cleared at rollover must not fire, got %v", result.Fired)
	}
}

func TestPollCycleNotifiesOnDeltas(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{{
		"campaignId":            "c1",
		"campaignNamePostfix":   "Camp 1",
		"conversions":           3.0,
		"allConversionsRevenue": 120.0,
	}}}
	notifier := &fakeNotifier{}
	deltaStore := &memoryDeltaStore{}
	svc := newTestService(fetcher, notifier, state.NewMemoryStore(), deltaStore)

	result, err := svc.RunPollCycle(context.Background())
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if fetcher.groupBy != voluum.GroupByCampaign {
		t.Fatalf("poll must group by campaign, got %q", fetcher.groupBy)
	}
	if !result.FirstRun || result.Notified != 0 {
		t.Fatalf("first poll must only record a baseline, got %+v", result)
	}

	fetcher.rows[0]["conversions"] = 5.0
	fetcher.rows[0]["allConversionsRevenue"] = 200.0
	result, err = svc.RunPollCycle(context.Background())
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if result.FirstRun || result.Notified != 1 {
		t.Fatalf("second poll should notify once, got %+v", result)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("want 1 notification, got %v", notifier.messages)
	}
}

func TestDigestSendsTopConvertingCampaigns(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{
		{"campaignId": "c1", "campaignNamePostfix": "Camp 1", "conversions": 1.0, "allConversionsRevenue": 40.0, "updated": 100.0},
		{"campaignId": "c2", "campaignNamePostfix": "Camp 2", "conversions": 0.0, "allConversionsRevenue": 0.0, "updated": 300.0},
		{"campaignId": "c3", "campaignNamePostfix": "Camp 3", "conversions": 2.0, "allConversionsRevenue": 90.0, "updated": 200.0},
	}}
	notifier := &fakeNotifier{}
	svc := newTestService(fetcher, notifier, state.NewMemoryStore(), &memoryDeltaStore{})

	sent, err := svc.RunDigest(context.Background(), 1)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if sent != 1 || len(notifier.messages) != 1 {
		t.Fatalf("want 1 digest line, got sent=%d messages=%v", sent, notifier.messages)
	}
	// c3 is the most recently updated converting campaign; c2 never converted.
	if got := notifier.messages[0]; got != "$90.00 - Camp 3 - 🌍" {
		t.Fatalf("unexpected digest line %q", got)
	}
}

func TestScanCycleRecordsPendingCount(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{
		offerRow("o1", "X", 80, 0),
		offerRow("o2", "Y", 10, 0),
	}}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})
	svc.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	result, err := svc.RunScanCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if result.Offers != 2 {
		t.Fatalf("offers: want 2, got %d", result.Offers)
	}
	if result.Pending != 1 {
		t.Fatalf("only o1 crosses the click floor, want pending=1, got %d", result.Pending)
	}
}

func TestScanCyclePrunesAuditLog(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 80, 0)}}
	audit := &fakeAuditStore{}
	svc := New(Deps{
		Client:         fetcher,
		Detector:       stall.NewDetector(stall.DefaultThresholds(), zerolog.Nop()),
		Tracker:        delta.NewTracker(zerolog.Nop()),
		StateStore:     state.NewMemoryStore(),
		DeltaStore:     &memoryDeltaStore{},
		Notifier:       &fakeNotifier{},
		Audit:          audit,
		AuditRetention: 30 * 24 * time.Hour,
	}, zerolog.Nop())

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.RunScanCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(audit.prunedBefore) != 1 {
		t.Fatalf("want one prune per cycle, got %d", len(audit.prunedBefore))
	}
	if want := now.Add(-30 * 24 * time.Hour); !audit.prunedBefore[0].Equal(want) {
		t.Fatalf("prune cutoff: want %v, got %v", want, audit.prunedBefore[0])
	}
}

func TestScanCycleZeroRetentionSkipsPrune(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 80, 0)}}
	audit := &fakeAuditStore{}
	svc := New(Deps{
		Client:     fetcher,
		Detector:   stall.NewDetector(stall.DefaultThresholds(), zerolog.Nop()),
		Tracker:    delta.NewTracker(zerolog.Nop()),
		StateStore: state.NewMemoryStore(),
		DeltaStore: &memoryDeltaStore{},
		Notifier:   &fakeNotifier{},
		Audit:      audit,
	}, zerolog.Nop())

	if _, err := svc.RunScanCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(audit.prunedBefore) != 0 {
		t.Fatalf("zero retention must keep the audit log, got prunes %v", audit.prunedBefore)
	}
}

func TestBackfillReplaysHistoricalBuckets(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 40, 12.5)}}
	samples := &fakeSampleStore{}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})
	svc.deps.Samples = samples

	from := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	result, err := svc.RunBackfill(context.Background(), from, to, time.Hour, false)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Buckets != 3 || result.Failed != 0 || result.Samples != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if fetcher.authCalls != 1 {
		t.Fatalf("backfill must authenticate once, got %d calls", fetcher.authCalls)
	}
	if len(samples.batches) != 3 {
		t.Fatalf("want one batch per bucket, got %d", len(samples.batches))
	}
	for i, batch := range samples.batches {
		want := from.Add(time.Duration(i) * time.Hour)
		if len(batch) != 1 || !batch[0].CycleTS.Equal(want) {
			t.Fatalf("bucket %d: want cycle %v, got %+v", i, want, batch)
		}
	}
	// Each bucket replays the tracking day up to that hour, so the
	// counters match what a live scan would have seen.
	dayStart := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if got := fetcher.rangeCalls[0]; !got.from.Equal(dayStart) || !got.to.Equal(from) {
		t.Fatalf("first bucket window: got %v..%v", got.from, got.to)
	}
}

func TestBackfillMidnightBucketClosesPreviousDay(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{offerRow("o1", "X", 40, 0)}}
	samples := &fakeSampleStore{}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})
	svc.deps.Samples = samples

	midnight := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	if _, err := svc.RunBackfill(context.Background(), midnight, midnight.Add(time.Hour), time.Hour, false); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(fetcher.rangeCalls) != 1 {
		t.Fatalf("want one fetch, got %d", len(fetcher.rangeCalls))
	}
	got := fetcher.rangeCalls[0]
	if !got.from.Equal(midnight.Add(-24*time.Hour)) || !got.to.Equal(midnight) {
		t.Fatalf("midnight bucket window: got %v..%v", got.from, got.to)
	}
}

func TestBackfillDryRunCountsWithoutStore(t *testing.T) {
	fetcher := &fakeFetcher{rows: []voluum.Row{
		offerRow("o1", "X", 40, 0),
		offerRow("o2", "Y", 10, 5),
	}}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})

	from := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	result, err := svc.RunBackfill(context.Background(), from, from.Add(2*time.Hour), time.Hour, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if result.Buckets != 2 || result.Samples != 4 {
		t.Fatalf("unexpected dry-run result %+v", result)
	}
}

func TestBackfillWithoutStoreErrors(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})

	from := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	_, err := svc.RunBackfill(context.Background(), from, from.Add(time.Hour), time.Hour, false)
	if !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestBackfillCountsFailedBuckets(t *testing.T) {
	fetcher := &fakeFetcher{rowsErr: errors.New("voluum report error (502)")}
	samples := &fakeSampleStore{}
	svc := newTestService(fetcher, &fakeNotifier{}, state.NewMemoryStore(), &memoryDeltaStore{})
	svc.deps.Samples = samples

	from := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	result, err := svc.RunBackfill(context.Background(), from, from.Add(2*time.Hour), time.Hour, false)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Buckets != 0 || result.Failed != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(samples.batches) != 0 {
		t.Fatalf("failed buckets must not write, got %v", samples.batches)
	}
}
