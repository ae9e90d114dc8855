package scanning

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Fields is a partial view of a receipt produced by extraction groups.
// A nil pointer means the value was not found.
type Fields struct {
	AccessKey *string

	CompanyName  *string
	CompanyCNPJ  *string
	CompanyIE    *string
	CompanyState *string

	Street       *string
	Number       *string
	Complement   *string
	Neighborhood *string
	City         *string
	State        *string
	PostalCode   *string

	ConsumerName     *string
	ConsumerDocument *string
	ConsumerState    *string

	OperationDestination *string
	FinalConsumer        *string
	BuyerPresence        *string

	Model         *string
	Series        *string
	ReceiptNumber *string
	EmissionDate  *string
	EmissionTime  *string

	TotalValue    *decimal.Decimal
	AmountPaid    *decimal.Decimal
	PaymentMethod *string
	TaxBase       *decimal.Decimal
	TaxValue      *decimal.Decimal
	Protocol      *string
	Notes         *string

	Items []Item

	// LowConfidence names fields whose values failed to parse
	LowConfidence []string
}

// Overlay copies every value present in o onto f. Groups write disjoint
// fields, so the order of overlays does not change the result.
func (f *Fields) Overlay(o Fields) {
	for _, p := range []struct{ dst, src **string }{
		{&f.AccessKey, &o.AccessKey},
		{&f.CompanyName, &o.CompanyName},
		{&f.CompanyCNPJ, &o.CompanyCNPJ},
		{&f.CompanyIE, &o.CompanyIE},
		{&f.CompanyState, &o.CompanyState},
		{&f.Street, &o.Street},
		{&f.Number, &o.Number},
		{&f.Complement, &o.Complement},
		{&f.Neighborhood, &o.Neighborhood},
		{&f.City, &o.City},
		{&f.State, &o.State},
		{&f.PostalCode, &o.PostalCode},
		{&f.ConsumerName, &o.ConsumerName},
		{&f.ConsumerDocument, &o.ConsumerDocument},
		{&f.ConsumerState, &o.ConsumerState},
		{&f.OperationDestination, &o.OperationDestination},
		{&f.FinalConsumer, &o.FinalConsumer},
		{&f.BuyerPresence, &o.BuyerPresence},
		{&f.Model, &o.Model},
		{&f.Series, &o.Series},
		{&f.ReceiptNumber, &o.ReceiptNumber},
		{&f.EmissionDate, &o.EmissionDate},
		{&f.EmissionTime, &o.EmissionTime},
		{&f.PaymentMethod, &o.PaymentMethod},
		{&f.Protocol, &o.Protocol},
		{&f.Notes, &o.Notes},
	} {
		if *p.src != nil {
			*p.dst = *p.src
		}
	}

	for _, p := range []struct{ dst, src **decimal.Decimal }{
		{&f.TotalValue, &o.TotalValue},
		{&f.AmountPaid, &o.AmountPaid},
		{&f.TaxBase, &o.TaxBase},
		{&f.TaxValue, &o.TaxValue},
	} {
		if *p.src != nil {
			*p.dst = *p.src
		}
	}

	if o.Items != nil {
		f.Items = o.Items
	}

	for _, name := range o.LowConfidence {
		if !slices.Contains(f.LowConfidence, name) {
			f.LowConfidence = append(f.LowConfidence, name)
		}
	}
	slices.Sort(f.LowConfidence)
}
