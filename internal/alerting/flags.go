package alerting

import "strings"

const globeGlyph = "🌍"

// The report carries full country names about as often as ISO codes.
var countryNameToISO = map[string]string{
	"czech republic": "CZ",
	"norway":         "NO",
	"sweden":         "SE",
	"denmark":        "DK",
	"finland":        "FI",
	"germany":        "DE",
	"italy":          "IT",
	"spain":          "ES",
	"france":         "FR",
	"poland":         "PL",
	"netherlands":    "NL",
	"austria":        "AT",
	"switzerland":    "CH",
	"portugal":       "PT",
	"ireland":        "IE",
	"belgium":        "BE",
	"canada":         "CA",
	"australia":      "AU",
	"new zealand":    "NZ",
	"uk":             "GB",
	"united kingdom": "GB",
	"united states":  "US",
}

// CountryFlag renders a country name or ISO-2 code as a flag glyph.
// Anything unresolvable maps to a neutral globe.
func CountryFlag(country string) string {
	s := strings.TrimSpace(country)
	if s == "" {
		return globeGlyph
	}

	code, ok := countryNameToISO[strings.ToLower(s)]
	if !ok {
		if len(s) != 2 {
			return globeGlyph
		}
		code = s
	}

	code = strings.ToUpper(code)
	var b strings.Builder
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return globeGlyph
		}
		b.WriteRune(0x1F1E6 + r - 'A')
	}
	return b.String()
}
