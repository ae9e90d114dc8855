package scanning

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	timePattern       = regexp.MustCompile(`\d{1,2}:\d{2}(:\d{2})?`)
	nonHexPattern     = regexp.MustCompile(`[^A-Fa-f0-9]`)
	itemCodePattern   = regexp.MustCompile(`(?i)\(\s*c[óo]digo\s*:?\s*([^)]*)\)`)
	streetNumber      = regexp.MustCompile(`^(\d+)\s*(.*)$`)
	postalCodeAndCity = regexp.MustCompile(`^(\d{5}-?\d{3})\s*-\s*(.+)$`)
)

// cleanText collapses runs of whitespace, non-breaking spaces included
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// optional returns nil for blank values
func optional(s string) *string {
	s = cleanText(s)
	if s == "" {
		return nil
	}
	return &s
}

// fold lowercases and strips diacritics so labels match regardless of
// accents or case ("Informações Gerais" and "informacoes gerais").
// Transformers and casers keep state, so both are built per call.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Lower(language.BrazilianPortuguese).String(cleanText(stripped))
}

// labelValue returns the text after the last colon of a "Label: value" cell
func labelValue(s string) string {
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	return cleanText(s)
}

// parseLocaleDecimal parses Brazilian-formatted numbers such as
// "R$ 1.234,56". A comma marks the decimal separator, and dots before it
// group thousands.
func parseLocaleDecimal(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(raw, "R$", "")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrNumericParse)
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNumericParse, raw)
	}
	return d, nil
}

// parseEmissionDate converts the document's dd/mm/yyyy date to ISO form
func parseEmissionDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	formats := []string{
		"2/1/2006",
		"2006-01-02",
		"2/1/06",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", raw)
}

// parseEmissionTime keeps the clock portion of values like "14:32:10-03:00"
func parseEmissionTime(raw string) string {
	return timePattern.FindString(raw)
}

// splitStreetNumber separates the building number from a trailing
// complement. Leading zeros are dropped, and a complement is only kept when
// it starts with a letter.
func splitStreetNumber(segment string) (number, complement string) {
	segment = cleanText(segment)
	m := streetNumber.FindStringSubmatch(segment)
	if m == nil {
		return segment, ""
	}
	number = strings.TrimLeft(m[1], "0")
	if number == "" {
		number = "0"
	}
	rest := strings.TrimSpace(m[2])
	if rest != "" {
		first := []rune(rest)[0]
		if unicode.IsLetter(first) {
			complement = rest
		}
	}
	return number, complement
}

// splitPostalCity reads the "CEP - City" segment of an address
func splitPostalCity(segment string) (postalCode, city string) {
	segment = cleanText(segment)
	if m := postalCodeAndCity.FindStringSubmatch(segment); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	parts := strings.Split(segment, "-")
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", ""
}

// splitItemName pulls the "(Código: X)" suffix out of an item description
func splitItemName(raw string) (name, code string) {
	raw = cleanText(raw)
	if m := itemCodePattern.FindStringSubmatch(raw); m != nil {
		code = strings.TrimSpace(m[1])
		raw = itemCodePattern.ReplaceAllString(raw, "")
	}
	return cleanText(raw), code
}
