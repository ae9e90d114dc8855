package scanning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the coarse kind of a scanned string
type Category string

const (
	CategoryTaxReceipt Category = "nfce"
	CategoryURL        Category = "url"
	CategoryEmail      Category = "email"
	CategoryNumeric    Category = "numeric"
	CategoryText       Category = "text"
)

// Status reports how complete a record's extraction was
type Status string

const (
	StatusComplete     Status = "complete"
	StatusPartialBasic Status = "partial_basic"
	StatusUnparseable  Status = "unparseable"
)

// Reference holds what the scanned string itself encodes, without any network lookup
type Reference struct {
	AccessKey        string          `json:"access_key"`
	ProvisionalTotal decimal.Decimal `json:"provisional_total"`
}

// Item is one purchased line of a receipt
type Item struct {
	Code          string          `json:"code,omitempty"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit,omitempty"`
	LineTotal     decimal.Decimal `json:"line_total"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
}

// Record is the merged result of one pipeline run
type Record struct {
	Content  string   `json:"content"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`

	AccessKey string `json:"access_key,omitempty"`

	CompanyName  string `json:"company_name,omitempty"`
	CompanyCNPJ  string `json:"company_cnpj,omitempty"`
	CompanyIE    string `json:"company_ie,omitempty"`
	CompanyState string `json:"company_state,omitempty"`

	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`

	ConsumerName     string `json:"consumer_name,omitempty"`
	ConsumerDocument string `json:"consumer_document,omitempty"`
	ConsumerState    string `json:"consumer_state,omitempty"`

	OperationDestination string `json:"operation_destination,omitempty"`
	FinalConsumer        string `json:"final_consumer,omitempty"`
	BuyerPresence        string `json:"buyer_presence,omitempty"`

	Model         string `json:"model,omitempty"`
	Series        string `json:"series,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`

	// EmissionDate and EmissionTime default to the processing moment;
	// EmissionConfirmed is set when the document supplied them.
	EmissionDate      string `json:"emission_date,omitempty"`
	EmissionTime      string `json:"emission_time,omitempty"`
	EmissionConfirmed bool   `json:"emission_confirmed"`

	ItemCount     int              `json:"item_count"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	AmountPaid    *decimal.Decimal `json:"amount_paid,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	TaxBase       *decimal.Decimal `json:"tax_base,omitempty"`
	TaxValue      *decimal.Decimal `json:"tax_value,omitempty"`
	Protocol      string           `json:"protocol,omitempty"`
	Notes         string           `json:"notes,omitempty"`

	Items []Item `json:"items"`

	Route          string    `json:"route,omitempty"`
	RetrievalError string    `json:"retrieval_error,omitempty"`
	LowConfidence  []string  `json:"low_confidence,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`

	// Document is the raw fetched page, kept so callers can snapshot it
	Document string `json:"-"`
}

// Scanner defines the interface for turning scanned content into records
type Scanner interface {
	// Process runs the full pipeline, network retrieval included
	Process(ctx context.Context, content string) (*Record, error)

	// Reextract rebuilds a record from a previously fetched document
	Reextract(ctx context.Context, content, document string) (*Record, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}
