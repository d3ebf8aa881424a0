package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"offer-stall-alerts/internal/alerting"
	"offer-stall-alerts/internal/config"
	"offer-stall-alerts/internal/delta"
	"offer-stall-alerts/internal/service"
	"offer-stall-alerts/internal/stall"
	"offer-stall-alerts/internal/state"
	"offer-stall-alerts/internal/storage"
	"offer-stall-alerts/internal/voluum"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newVoluumClient() *voluum.Client {
	return voluum.NewClient(voluum.Options{
		BaseURL:         a.Config.Voluum.BaseURL,
		Email:           a.Config.Voluum.Email,
		Password:        a.Config.Voluum.Password,
		AccessKeyID:     a.Config.Voluum.AccessKeyID,
		AccessKeySecret: a.Config.Voluum.AccessKeySecret,
		Timeout:         a.Config.Voluum.RequestTimeout,
		ReportWindow:    a.Config.Voluum.ReportWindow,
		PageLimit:       a.Config.Voluum.PageLimit,
	}, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	if !a.Config.Telegram.HasTelegram() {
		return nil, errors.New("telegram not configured; set telegram.bot_token and telegram.chat_id")
	}
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger), nil
}

func (a *App) thresholds() stall.Thresholds {
	return stall.Thresholds{
		ClickThresholdLow:  a.Config.Detector.ClickThresholdLow,
		WaitLow:            a.Config.Detector.WaitLow,
		ClickThresholdHigh: a.Config.Detector.ClickThresholdHigh,
		WaitHigh:           a.Config.Detector.WaitHigh,
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService wires the full cycle orchestrator. The returned closer is nil
// when no database is configured.
func (a *App) newService(ctx context.Context) (*service.Service, func(), error) {
	notifier, err := a.newNotifier()
	if err != nil {
		return nil, nil, err
	}
	if !a.Config.Voluum.HasVoluumCredentials() {
		return nil, nil, voluum.ErrNoCredentials
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; metric history and alert audit disabled")
	}

	deps := service.Deps{
		Client:     a.newVoluumClient(),
		Detector:   stall.NewDetector(a.thresholds(), a.Logger),
		Tracker:    delta.NewTracker(a.Logger),
		StateStore: state.NewFileStore(a.Config.State.Path, a.Logger),
		DeltaStore: state.NewFileDeltaStore(a.Config.State.DeltaPath, a.Logger),
		Notifier:   notifier,
	}
	if store != nil {
		deps.Samples = store
		deps.Audit = store
		deps.Locker = store
		deps.LockKey = a.Config.Scheduler.AdvisoryLockKey
		deps.AuditRetention = a.Config.Database.AuditRetention
	}

	return service.New(deps, a.Logger), closeStore, nil
}

// DigestOptions configure the latest-conversions digest.
type DigestOptions struct {
	Limit int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting an offer's metric history.
type ExportOptions struct {
	OfferID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions bound the historical sample backfill.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	Step   time.Duration
	DryRun bool
}

// SimulateOptions configure the offline detector rehearsal.
type SimulateOptions struct {
	ReportPath string
	Send       bool
}

// ResetOptions select which state documents to delete.
type ResetOptions struct {
	Scan  bool
	Delta bool
}
