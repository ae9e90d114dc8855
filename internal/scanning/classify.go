package scanning

import "strings"

// receiptTokens mark content as a tax-receipt reference: tax-authority
// hosts and paths, or the access-key query parameter.
var receiptTokens = []string{
	"nfce.fazenda",
	"nfce.sefaz",
	"sefaz.",
	"/nfce",
	"chnfe=",
}

// Classify maps scanned content to its category. Rules are evaluated in
// order and the first match wins.
func Classify(content string) Category {
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, token := range receiptTokens {
		if strings.Contains(lower, token) {
			return CategoryTaxReceipt
		}
	}
	return classifyGeneric(content)
}

// classifyGeneric applies every rule except the receipt one. It is the
// fallback for content that looked like a receipt but could not be decoded.
func classifyGeneric(content string) Category {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return CategoryURL
	case strings.Contains(trimmed, "@") && strings.Contains(trimmed, "."):
		return CategoryEmail
	case isDigits(trimmed):
		return CategoryNumeric
	default:
		return CategoryText
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
