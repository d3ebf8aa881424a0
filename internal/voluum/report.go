package voluum

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one report row as returned by the API. Field names and casing are
// not guaranteed, so all access goes through the alias tables below.
type Row map[string]any

// Alias tables map each logical field to the source keys accepted for it,
// in priority order. Matching is case-insensitive.
var (
	offerIDAliases   = []string{"offerId", "campaignId", "id"}
	offerNameAliases = []string{"offerName", "offer", "lander", "campaignNamePostfix", "campaignName"}
	countryAliases   = []string{"campaignCountry", "countryCode", "country", "geo"}
	clicksAliases    = []string{"uniqueClicks", "clicks", "visits"}
	revenueAliases   = []string{"allConversionsRevenue", "revenue", "payout"}
	revenueExtras    = []string{"customRevenue1", "customRevenue2"}

	conversionsAliases = []string{"conversions"}
	conversionsExtras  = []string{"customConversions1", "customConversions2"}
	sourceAliases      = []string{"trafficSourceName", "source", "trafficSource"}
	updatedAliases     = []string{"updated", "created"}
)

// lookup returns the first aliased value present in the row.
func lookup(row Row, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := row[alias]; ok && v != nil {
			return v, true
		}
	}
	// Second pass tolerates casing drift in the source keys.
	for _, alias := range aliases {
		for k, v := range row {
			if v != nil && strings.EqualFold(k, alias) {
				return v, true
			}
		}
	}
	return nil, false
}

// String returns the first aliased value rendered as a string, or "".
func (r Row) String(aliases ...string) string {
	v, ok := lookup(r, aliases)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// Int returns the first aliased value as a non-negative integer. Missing
// or unparsable values are 0; extraction never fails.
func (r Row) Int(aliases ...string) int64 {
	v, ok := lookup(r, aliases)
	if !ok {
		return 0
	}
	n := coerceInt(v)
	if n < 0 {
		return 0
	}
	return n
}

// Decimal returns the first aliased value as a non-negative decimal.
func (r Row) Decimal(aliases ...string) decimal.Decimal {
	v, ok := lookup(r, aliases)
	if !ok {
		return decimal.Zero
	}
	d := coerceDecimal(v)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func coerceInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return int64(parsed)
	default:
		return 0
	}
}

func coerceDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero
		}
		return parsed
	default:
		return decimal.Zero
	}
}

// OfferID returns the row's stable offer identifier, or "".
func (r Row) OfferID() string {
	return r.String(offerIDAliases...)
}

// OfferName returns the row's display name, or "?" when absent.
func (r Row) OfferName() string {
	if name := r.String(offerNameAliases...); name != "" {
		return name
	}
	return "?"
}

// Country returns the row's country name or code, or "".
func (r Row) Country() string {
	return r.String(countryAliases...)
}

// Clicks returns the row's unique-click counter for the tracking day.
func (r Row) Clicks() int64 {
	return r.Int(clicksAliases...)
}

// Revenue returns the day's cumulative revenue: the primary revenue field
// plus both custom revenue columns, each defaulting to zero when absent.
func (r Row) Revenue() decimal.Decimal {
	total := r.Decimal(revenueAliases...)
	for _, extra := range revenueExtras {
		total = total.Add(r.Decimal(extra))
	}
	return total
}

// Conversions returns total conversions including both custom columns.
func (r Row) Conversions() int64 {
	total := r.Int(conversionsAliases...)
	for _, extra := range conversionsExtras {
		total += r.Int(extra)
	}
	return total
}

// TrafficSource returns the row's traffic source label, or "".
func (r Row) TrafficSource() string {
	return r.String(sourceAliases...)
}

// UpdatedAt returns the row's last-update ordinal used to sort digests.
func (r Row) UpdatedAt() int64 {
	return r.Int(updatedAliases...)
}
