package scanning

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
)

func positive(get func(*Record) decimal.Decimal) func(*Record) string {
	return func(r *Record) string {
		if v := get(r); v.IsPositive() {
			return v.String()
		}
		return ""
	}
}

func optionalPositive(get func(*Record) *decimal.Decimal) func(*Record) string {
	return func(r *Record) string {
		if v := get(r); v != nil && v.IsPositive() {
			return v.String()
		}
		return ""
	}
}

// essentialAccessors maps the names accepted as essential fields to the
// record value they check. An empty string or non-positive number counts as
// missing.
var essentialAccessors = map[string]func(*Record) string{
	"access_key":            func(r *Record) string { return r.AccessKey },
	"company_name":          func(r *Record) string { return r.CompanyName },
	"company_cnpj":          func(r *Record) string { return r.CompanyCNPJ },
	"company_ie":            func(r *Record) string { return r.CompanyIE },
	"company_state":         func(r *Record) string { return r.CompanyState },
	"street":                func(r *Record) string { return r.Street },
	"number":                func(r *Record) string { return r.Number },
	"neighborhood":          func(r *Record) string { return r.Neighborhood },
	"city":                  func(r *Record) string { return r.City },
	"state":                 func(r *Record) string { return r.State },
	"postal_code":           func(r *Record) string { return r.PostalCode },
	"consumer_name":         func(r *Record) string { return r.ConsumerName },
	"consumer_document":     func(r *Record) string { return r.ConsumerDocument },
	"operation_destination": func(r *Record) string { return r.OperationDestination },
	"model":                 func(r *Record) string { return r.Model },
	"series":                func(r *Record) string { return r.Series },
	"receipt_number":        func(r *Record) string { return r.ReceiptNumber },
	"payment_method":        func(r *Record) string { return r.PaymentMethod },
	"protocol":              func(r *Record) string { return r.Protocol },
	"emission_date": func(r *Record) string {
		if !r.EmissionConfirmed {
			return ""
		}
		return r.EmissionDate
	},
	"item_count": func(r *Record) string {
		if r.ItemCount <= 0 {
			return ""
		}
		return strconv.Itoa(r.ItemCount)
	},
	"total_value": positive(func(r *Record) decimal.Decimal { return r.TotalValue }),
	"amount_paid": optionalPositive(func(r *Record) *decimal.Decimal { return r.AmountPaid }),
	"tax_base":    optionalPositive(func(r *Record) *decimal.Decimal { return r.TaxBase }),
	"tax_value":   optionalPositive(func(r *Record) *decimal.Decimal { return r.TaxValue }),
}

// EssentialFieldNames lists every name accepted in an essential-field set
func EssentialFieldNames() []string {
	names := make([]string, 0, len(essentialAccessors))
	for name := range essentialAccessors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateEssentialFields rejects names no accessor exists for
func ValidateEssentialFields(names []string) error {
	for _, name := range names {
		if _, ok := essentialAccessors[name]; !ok {
			return fmt.Errorf("unknown essential field %q", name)
		}
	}
	return nil
}

// Merger combines the decoded reference with extracted fields and decides
// the record status.
type Merger struct {
	essential  []string
	timeSource TimeSource
}

// NewMerger creates a merger. An empty set uses DefaultEssentialFields.
func NewMerger(essential []string) (*Merger, error) {
	return NewMergerWithTimeSource(essential, defaultTimeSource{})
}

// NewMergerWithTimeSource creates a merger with a custom clock (useful for testing)
func NewMergerWithTimeSource(essential []string, ts TimeSource) (*Merger, error) {
	if len(essential) == 0 {
		essential = DefaultEssentialFields
	}
	if err := ValidateEssentialFields(essential); err != nil {
		return nil, err
	}
	return &Merger{
		essential:  append([]string(nil), essential...),
		timeSource: ts,
	}, nil
}

// Merge builds the receipt record. Extracted fields win over reference
// values. A non-nil retrievalErr always yields a partial record.
func (m *Merger) Merge(content string, ref Reference, fields *Fields, retrievalErr error) *Record {
	now := m.timeSource.Now()
	rec := &Record{
		Content:      content,
		Category:     CategoryTaxReceipt,
		AccessKey:    ref.AccessKey,
		TotalValue:   ref.ProvisionalTotal,
		EmissionDate: now.Format("2006-01-02"),
		EmissionTime: now.Format("15:04:05"),
		Items:        []Item{},
		ProcessedAt:  now,
	}
	if retrievalErr != nil {
		rec.RetrievalError = retrievalErr.Error()
	}
	if fields != nil {
		apply(rec, fields)
	}
	rec.ItemCount = len(rec.Items)

	if retrievalErr != nil || len(m.Missing(rec)) > 0 {
		rec.Status = StatusPartialBasic
	} else {
		rec.Status = StatusComplete
	}
	return rec
}

// Generic builds the record for content that is not a receipt reference
func (m *Merger) Generic(content string, category Category) *Record {
	return &Record{
		Content:     content,
		Category:    category,
		Status:      StatusUnparseable,
		Items:       []Item{},
		ProcessedAt: m.timeSource.Now(),
	}
}

// Missing returns the essential fields the record lacks
func (m *Merger) Missing(rec *Record) []string {
	var missing []string
	for _, name := range m.essential {
		if essentialAccessors[name](rec) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func apply(rec *Record, f *Fields) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	set(&rec.AccessKey, f.AccessKey)
	set(&rec.CompanyName, f.CompanyName)
	set(&rec.CompanyCNPJ, f.CompanyCNPJ)
	set(&rec.CompanyIE, f.CompanyIE)
	set(&rec.CompanyState, f.CompanyState)
	set(&rec.Street, f.Street)
	set(&rec.Number, f.Number)
	set(&rec.Complement, f.Complement)
	set(&rec.Neighborhood, f.Neighborhood)
	set(&rec.City, f.City)
	set(&rec.State, f.State)
	set(&rec.PostalCode, f.PostalCode)
	set(&rec.ConsumerName, f.ConsumerName)
	set(&rec.ConsumerDocument, f.ConsumerDocument)
	set(&rec.ConsumerState, f.ConsumerState)
	set(&rec.OperationDestination, f.OperationDestination)
	set(&rec.FinalConsumer, f.FinalConsumer)
	set(&rec.BuyerPresence, f.BuyerPresence)
	set(&rec.Model, f.Model)
	set(&rec.Series, f.Series)
	set(&rec.ReceiptNumber, f.ReceiptNumber)
	set(&rec.PaymentMethod, f.PaymentMethod)
	set(&rec.Protocol, f.Protocol)
	set(&rec.Notes, f.Notes)

	if f.EmissionDate != nil {
		rec.EmissionDate = *f.EmissionDate
		rec.EmissionConfirmed = true
		// a confirmed date never pairs with the processing clock
		rec.EmissionTime = ""
	}
	set(&rec.EmissionTime, f.EmissionTime)

	if f.TotalValue != nil {
		rec.TotalValue = *f.TotalValue
	}
	rec.AmountPaid = f.AmountPaid
	rec.TaxBase = f.TaxBase
	rec.TaxValue = f.TaxValue

	if f.Items != nil {
		rec.Items = f.Items
	}
	if len(f.LowConfidence) > 0 {
		rec.LowConfidence = append([]string(nil), f.LowConfidence...)
	}
}
