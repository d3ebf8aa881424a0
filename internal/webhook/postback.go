package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offer-stall-alerts/internal/alerting"
)

// Postback field aliases, tried in priority order. Tracking platforms are
// not consistent about parameter names, so each logical field accepts
// several source keys.
var (
	pbClickIDAliases  = []string{"cid", "clickid", "click_id"}
	pbPayoutAliases   = []string{"payout", "revenue", "amount"}
	pbCampaignAliases = []string{"campaign", "camp"}
	pbCountryAliases  = []string{"country", "geo"}
	pbOfferAliases    = []string{"offer", "lander"}
	pbSourceAliases   = []string{"source", "traffic_source", "trafficsource"}
	pbTypeAliases     = []string{"ct", "type", "event", "goal"}
)

// Conversion types treated as revenue-worthy even without a payout value.
var revenueConversionTypes = map[string]bool{
	"ftd":           true,
	"deposit":       true,
	"first_deposit": true,
	"purchase":      true,
	"sale":          true,
}

// ParsePostback flattens the request into a string map. POST bodies may be
// form-encoded or JSON; GET parameters come from the query string.
func ParsePostback(r *http.Request) map[string]string {
	data := map[string]string{}

	if r.Method == http.MethodPost {
		contentType := r.Header.Get("Content-Type")
		if strings.Contains(contentType, "application/json") {
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
				for k, v := range payload {
					data[strings.ToLower(k)] = stringify(v)
				}
			}
			return data
		}
		if err := r.ParseForm(); err == nil {
			for k, vs := range r.PostForm {
				if len(vs) > 0 {
					data[strings.ToLower(k)] = vs[0]
				}
			}
			if len(data) > 0 {
				return data
			}
		}
	}

	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			data[strings.ToLower(k)] = vs[0]
		}
	}
	return data
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func first(data map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := data[alias]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IsRevenueBearing classifies a postback as a revenue-worthy conversion:
// either the payout parses to a positive number, or the conversion type
// matches a known deposit/purchase label.
func IsRevenueBearing(data map[string]string) bool {
	if payout := first(data, pbPayoutAliases); payout != "" {
		cleaned := strings.TrimLeft(strings.TrimSpace(payout), "$€£")
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil && v > 0 {
			return true
		}
	}
	if ct := first(data, pbTypeAliases); ct != "" {
		return revenueConversionTypes[strings.ToLower(ct)]
	}
	return false
}

// FormatPostbackMessage renders the FTD notification sent to the chat.
func FormatPostbackMessage(data map[string]string, now time.Time) string {
	clickID := orNA(first(data, pbClickIDAliases))
	payout := orNA(first(data, pbPayoutAliases))
	campaign := orNA(first(data, pbCampaignAliases))
	country := first(data, pbCountryAliases)
	offer := orNA(first(data, pbOfferAliases))
	source := orNA(first(data, pbSourceAliases))

	var b strings.Builder
	b.WriteString("🎉 <b>NEW FTD!</b> 🎉\n\n")
	fmt.Fprintf(&b, "💰 <b>Payout:</b> %s\n", payout)
	fmt.Fprintf(&b, "📍 <b>Country:</b> %s %s\n", orNA(country), alerting.CountryFlag(country))
	fmt.Fprintf(&b, "📢 <b>Campaign:</b> %s\n", campaign)
	fmt.Fprintf(&b, "🎯 <b>Offer:</b> %s\n", offer)
	fmt.Fprintf(&b, "🔗 <b>Source:</b> %s\n", source)
	fmt.Fprintf(&b, "🔑 <b>Click ID:</b> <code>%s</code>\n\n", clickID)
	fmt.Fprintf(&b, "⏰ <b>Time:</b> %s", now.Format("2006-01-02 15:04:05"))

	if vars := customVars(data); len(vars) > 0 {
		b.WriteString("\n\n📊 <b>Custom Variables:</b>")
		for _, line := range vars {
			b.WriteString("\n" + line)
		}
	}
	return b.String()
}

// customVars collects sub1..sub10 style variables, one line per slot,
// with the alias families tried in order.
func customVars(data map[string]string) []string {
	lines := make([]string, 0)
	for i := 1; i <= 10; i++ {
		for _, prefix := range []string{"sub", "var", "c"} {
			key := fmt.Sprintf("%s%d", prefix, i)
			if v, ok := data[key]; ok && v != "" {
				lines = append(lines, fmt.Sprintf("  • %s: %s", key, v))
				break
			}
		}
	}
	return lines
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
