package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertMetricSampleSQL = `INSERT INTO offer_metric_samples (
        cycle_ts,
        offer_id,
        offer_name,
        country,
        clicks,
        revenue
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (cycle_ts, offer_id) DO UPDATE
    SET
        offer_name = EXCLUDED.offer_name,
        country    = EXCLUDED.country,
        clicks     = EXCLUDED.clicks,
        revenue    = EXCLUDED.revenue;`

	listOfferSamplesSQL = `SELECT
        cycle_ts,
        offer_id,
        offer_name,
        country,
        clicks,
        revenue,
        created_at
    FROM offer_metric_samples
    WHERE offer_id = $1
      AND cycle_ts >= $2
      AND cycle_ts < $3
    ORDER BY cycle_ts;`

	insertStallAlertSQL = `INSERT INTO stall_alerts (
        fired_at,
        offer_id,
        offer_name,
        rule,
        clicks,
        clicks_since_revenue,
        message,
        delivered
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, fired_at, offer_id, offer_name, rule, clicks, clicks_since_revenue, message, delivered, created_at;`

	listRecentStallAlertsSQL = `SELECT
        id,
        fired_at,
        offer_id,
        offer_name,
        rule,
        clicks,
        clicks_since_revenue,
        message,
        delivered,
        created_at
    FROM stall_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteStallAlertsBeforeSQL = `DELETE FROM stall_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MetricSampleStore defines operations for offer metric history.
type MetricSampleStore interface {
	UpsertMetricSamples(ctx context.Context, samples []MetricSample) error
	ListOfferSamples(ctx context.Context, offerID string, from, to time.Time) ([]MetricSample, error)
}

// AlertAuditStore defines operations for the fired-alert audit log.
type AlertAuditStore interface {
	InsertStallAlert(ctx context.Context, alert StallAlertRecord) (StallAlertRecord, error)
	ListRecentStallAlerts(ctx context.Context, limit int) ([]StallAlertRecord, error)
	DeleteStallAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to metric history and the alert audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock is released anyway when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertMetricSamples persists one cycle's offer counters in a single
// transaction, so a history window is never half-written.
func (s *Store) UpsertMetricSamples(ctx context.Context, samples []MetricSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sample tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sample := range samples {
		if _, err := tx.Exec(ctx, upsertMetricSampleSQL,
			sample.CycleTS,
			sample.OfferID,
			sample.OfferName,
			sample.Country,
			sample.Clicks,
			sample.Revenue.String(),
		); err != nil {
			return fmt.Errorf("upsert metric sample: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sample tx: %w", err)
	}
	return nil
}

// ListOfferSamples lists one offer's samples inside a time window.
func (s *Store) ListOfferSamples(ctx context.Context, offerID string, from, to time.Time) ([]MetricSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOfferSamplesSQL, offerID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list offer samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MetricSample, 0)
	for rows.Next() {
		sample, scanErr := scanMetricSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertStallAlert appends a fired alert to the audit log.
func (s *Store) InsertStallAlert(ctx context.Context, alert StallAlertRecord) (StallAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return StallAlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertStallAlertSQL,
		alert.FiredAt,
		alert.OfferID,
		alert.OfferName,
		alert.Rule,
		alert.Clicks,
		alert.ClicksSinceRevenue,
		alert.Message,
		alert.Delivered,
	)

	stored, scanErr := scanStallAlert(row)
	if scanErr != nil {
		return StallAlertRecord{}, fmt.Errorf("insert stall alert: %w", scanErr)
	}
	return stored, nil
}

// ListRecentStallAlerts lists the newest audit entries first.
func (s *Store) ListRecentStallAlerts(ctx context.Context, limit int) ([]StallAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentStallAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent stall alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]StallAlertRecord, 0, limit)
	for rows.Next() {
		alert, scanErr := scanStallAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteStallAlertsBefore prunes audit entries older than the cutoff.
func (s *Store) DeleteStallAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteStallAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete stall alerts: %w", err)
	}
	return nil
}

func scanMetricSample(row pgx.Row) (MetricSample, error) {
	var sample MetricSample
	var revenue string
	if err := row.Scan(
		&sample.CycleTS,
		&sample.OfferID,
		&sample.OfferName,
		&sample.Country,
		&sample.Clicks,
		&revenue,
		&sample.CreatedAt,
	); err != nil {
		return MetricSample{}, fmt.Errorf("scan metric sample: %w", err)
	}

	parsed, err := decimal.NewFromString(revenue)
	if err != nil {
		return MetricSample{}, fmt.Errorf("parse sample revenue: %w", err)
	}
	sample.Revenue = parsed
	return sample, nil
}

func scanStallAlert(row pgx.Row) (StallAlertRecord, error) {
	var alert StallAlertRecord
	if err := row.Scan(
		&alert.ID,
		&alert.FiredAt,
		&alert.OfferID,
		&alert.OfferName,
		&alert.Rule,
		&alert.Clicks,
		&alert.ClicksSinceRevenue,
		&alert.Message,
		&alert.Delivered,
		&alert.CreatedAt,
	); err != nil {
		return StallAlertRecord{}, err
	}
	return alert, nil
}

var (
	_ MetricSampleStore = (*Store)(nil)
	_ AlertAuditStore   = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
