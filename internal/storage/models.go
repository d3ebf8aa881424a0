package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricSample is one offer's counters recorded for one scan cycle.
type MetricSample struct {
	CycleTS   time.Time
	OfferID   string
	OfferName string
	Country   string
	Clicks    int64
	Revenue   decimal.Decimal
	CreatedAt time.Time
}

// StallAlertRecord captures a fired stall alert for auditing.
type StallAlertRecord struct {
	ID                 int64
	FiredAt            time.Time
	OfferID            string
	OfferName          string
	Rule               string
	Clicks             int64
	ClicksSinceRevenue int64
	Message            string
	Delivered          bool
	CreatedAt          time.Time
}
