package alerting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"offer-stall-alerts/internal/stall"
	"offer-stall-alerts/internal/state"
)

// FormatStallAlert renders the single-line stalled-offer message.
func FormatStallAlert(alert stall.Alert) string {
	flag := CountryFlag(alert.Offer.Country)
	switch alert.Rule {
	case state.RuleZeroRevenue:
		return fmt.Sprintf("⚠️ %s %s: %d clicks, no revenue today", flag, alert.Offer.Name, alert.Offer.Clicks)
	case state.RuleStalledRevenue:
		return fmt.Sprintf("⚠️ %s %s: +%d clicks since last revenue", flag, alert.Offer.Name, alert.ClicksSinceRevenue)
	default:
		return fmt.Sprintf("⚠️ %s %s: stalled", flag, alert.Offer.Name)
	}
}

// DeltaNotification carries one campaign's counter increase for the poller.
type DeltaNotification struct {
	CampaignName  string
	Country       string
	TrafficSource string
	NewConv       int64
	NewRevenue    decimal.Decimal
	At            time.Time
}

// FormatDelta renders the new-conversions message sent by the delta poller.
func FormatDelta(n DeltaNotification) string {
	return fmt.Sprintf(
		"🎉 <b>NEW CONVERSIONS!</b> 🎉\n\n"+
			"📢 <b>Campaign:</b> %s\n"+
			"📍 <b>Country:</b> %s %s\n"+
			"🔗 <b>Source:</b> %s\n\n"+
			"➕ <b>New conversions:</b> %d\n"+
			"💰 <b>New revenue:</b> $%s\n\n"+
			"⏰ <b>Time:</b> %s",
		orNA(n.CampaignName),
		orNA(n.Country), CountryFlag(n.Country),
		orNA(n.TrafficSource),
		n.NewConv,
		n.NewRevenue.StringFixed(2),
		n.At.Format("2006-01-02 15:04"),
	)
}

// FormatDigestLine renders one latest-conversions digest entry.
func FormatDigestLine(revenue decimal.Decimal, offerName, country string) string {
	return fmt.Sprintf("$%s - %s - %s", revenue.StringFixed(2), offerName, CountryFlag(country))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
