package scanning

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const accessKeyLength = 44

var (
	// a longer hex run is not a key
	keyParamPattern = regexp.MustCompile(`(?i)chNFe=([A-F0-9]{44})(?:[^A-F0-9]|$)`)
	bareKeyPattern  = regexp.MustCompile(`(?i)(?:^|[^A-F0-9])([A-F0-9]{44})(?:[^A-F0-9]|$)`)
)

// DecodeReference reads the access key and provisional total straight out
// of the scanned string.
//
// The key is taken from the chNFe query parameter when present, otherwise
// from the first pipe-delimited segment. The provisional total is the fourth
// pipe-delimited segment, a plain decimal, and falls back to zero.
func DecodeReference(content string) (Reference, error) {
	var key string
	if m := keyParamPattern.FindStringSubmatch(content); m != nil {
		key = m[1]
	} else {
		first := strings.Split(content, "|")[0]
		if m := bareKeyPattern.FindStringSubmatch(first); m != nil {
			key = m[1]
		}
	}
	if len(key) != accessKeyLength {
		return Reference{}, ErrMissingAccessKey
	}

	return Reference{
		AccessKey:        strings.ToUpper(key),
		ProvisionalTotal: provisionalTotal(content),
	}, nil
}

func provisionalTotal(content string) decimal.Decimal {
	parts := strings.Split(content, "|")
	if len(parts) < 4 {
		return decimal.Zero
	}
	segment := strings.TrimSpace(parts[3])
	if strings.ContainsAny(segment, "eE") {
		return decimal.Zero
	}
	total, err := decimal.NewFromString(segment)
	if err != nil || total.IsNegative() {
		return decimal.Zero
	}
	return total
}
