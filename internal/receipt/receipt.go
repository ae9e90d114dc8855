package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

var (
	// ErrNotFound is returned when no receipt matches
	ErrNotFound = errors.New("receipt not found")

	// ErrDuplicate is returned when the access key or scanned content
	// already belongs to another receipt
	ErrDuplicate = errors.New("receipt already exists")
)

// Receipt is a stored scan result
type Receipt struct {
	ID string `json:"id"`
	scanning.Record
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentHash identifies the scanned content in the stores' indexes
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ItemRow is a purchased item together with the receipt it came from
type ItemRow struct {
	ReceiptID    string `json:"receipt_id"`
	CompanyName  string `json:"company_name,omitempty"`
	EmissionDate string `json:"emission_date,omitempty"`
	scanning.Item
}

// Filter narrows a receipt listing. Zero values match everything.
type Filter struct {
	// Term matches company name, CNPJ, access key or content, ignoring case
	Term string
	// From and To bound the emission date, inclusive, as YYYY-MM-DD
	From string
	To   string
	Min  *decimal.Decimal
	Max  *decimal.Decimal
}

// Match reports whether r satisfies every set criterion
func (f Filter) Match(r *Receipt) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Term)); term != "" {
		found := false
		for _, v := range []string{r.CompanyName, r.CompanyCNPJ, r.AccessKey, r.Content} {
			if strings.Contains(strings.ToLower(v), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != "" && r.EmissionDate < f.From {
		return false
	}
	if f.To != "" && r.EmissionDate > f.To {
		return false
	}
	if f.Min != nil && r.TotalValue.LessThan(*f.Min) {
		return false
	}
	if f.Max != nil && r.TotalValue.GreaterThan(*f.Max) {
		return false
	}
	return true
}
