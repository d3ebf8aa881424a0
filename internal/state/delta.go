package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CampaignStat holds the cumulative counters last seen for one campaign.
type CampaignStat struct {
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// DeltaDocument is the persisted snapshot used by the delta poller.
type DeltaDocument struct {
	Campaigns map[string]CampaignStat `json:"campaigns"`
}

// NewDeltaDocument returns an empty delta snapshot.
func NewDeltaDocument() *DeltaDocument {
	return &DeltaDocument{Campaigns: map[string]CampaignStat{}}
}

// Empty reports whether the snapshot has no recorded campaigns, i.e. the
// poller is on its first run and should only record a baseline.
func (d *DeltaDocument) Empty() bool {
	return len(d.Campaigns) == 0
}

// DeltaStore loads and saves the delta poller snapshot.
type DeltaStore interface {
	Load(ctx context.Context) (*DeltaDocument, error)
	Save(ctx context.Context, doc *DeltaDocument) error
}

// FileDeltaStore persists the delta snapshot with the same atomic
// replace-on-write discipline as the detector state.
type FileDeltaStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileDeltaStore constructs a file-backed delta store at path.
func NewFileDeltaStore(path string, logger zerolog.Logger) *FileDeltaStore {
	return &FileDeltaStore{
		path:   path,
		logger: logger.With().Str("component", "delta_store").Str("path", path).Logger(),
	}
}

// Load reads the snapshot; missing or corrupt files yield a fresh baseline.
func (s *FileDeltaStore) Load(ctx context.Context) (*DeltaDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDeltaDocument(), nil
		}
		s.logger.Warn().Err(err).Msg("delta snapshot unreadable; recording a fresh baseline")
		return NewDeltaDocument(), nil
	}

	doc := NewDeltaDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn().Err(err).Msg("delta snapshot corrupt; recording a fresh baseline")
		return NewDeltaDocument(), nil
	}
	if doc.Campaigns == nil {
		doc.Campaigns = map[string]CampaignStat{}
	}
	return doc, nil
}

// Save atomically replaces the snapshot on disk.
func (s *FileDeltaStore) Save(ctx context.Context, doc *DeltaDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal delta snapshot: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

var _ DeltaStore = (*FileDeltaStore)(nil)
