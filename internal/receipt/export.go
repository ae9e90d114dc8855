package receipt

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ExportFormat selects the layout of an export
type ExportFormat string

const (
	ExportTXT  ExportFormat = "txt"
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
	ExportJSON ExportFormat = "json"
)

// ErrUnknownFormat is returned for export formats other than the ones above
var ErrUnknownFormat = errors.New("unknown export format")

const (
	dateTimeLayout = "02/01/2006 15:04:05"
	txtSeparator   = "--------------------------------------------------"

	receiptsSheet = "Cupons"
	itemsSheet    = "Itens"
)

// Export is a rendered export file
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Backup is the JSON export: every record with its items
type Backup struct {
	ExportedAt time.Time  `json:"exported_at"`
	Count      int        `json:"count"`
	Receipts   []*Receipt `json:"receipts"`
}

// Export renders the receipts matching filter
func (s *Service) Export(format ExportFormat, filter Filter) (*Export, error) {
	receipts, err := s.ListReceipts(filter)
	if err != nil {
		return nil, err
	}

	var (
		data []byte
		out  = &Export{Filename: "cupons-fiscais." + string(format)}
	)
	switch format {
	case ExportTXT:
		out.ContentType = "text/plain; charset=utf-8"
		data = RenderTXT(receipts)
	case ExportCSV:
		out.ContentType = "text/csv; charset=utf-8"
		data, err = RenderCSV(receipts)
	case ExportXLSX:
		out.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		data, err = RenderXLSX(receipts)
	case ExportJSON:
		out.ContentType = "application/json"
		out.Filename = "backup-cupons-fiscais.json"
		data, err = RenderBackup(receipts, s.timeSource.Now())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("rendering %s export: %w", format, err)
	}

	out.Data = data
	return out, nil
}

// formatBRL renders an amount the way Brazilian receipts print it: R$ 1.234,56
func formatBRL(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	whole, cents, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, b.String(), cents)
}

func formatOptionalBRL(d *decimal.Decimal) string {
	if d == nil {
		return formatBRL(decimal.Zero)
	}
	return formatBRL(*d)
}

// RenderTXT writes one block per receipt, separated by a dashed line
func RenderTXT(receipts []*Receipt) []byte {
	blocks := make([]string, 0, len(receipts))
	for _, r := range receipts {
		var b strings.Builder
		fmt.Fprintf(&b, "Data: %s\n", r.CreatedAt.Format(dateTimeLayout))
		fmt.Fprintf(&b, "Empresa: %s\n", orNA(r.CompanyName))
		fmt.Fprintf(&b, "CNPJ: %s\n", orNA(FormatCNPJ(r.CompanyCNPJ)))
		if r.PostalCode != "" {
			fmt.Fprintf(&b, "CEP: %s\n", FormatCEP(r.PostalCode))
		}
		if r.ConsumerDocument != "" {
			fmt.Fprintf(&b, "Consumidor: %s\n", FormatDocument(r.ConsumerDocument))
		}
		fmt.Fprintf(&b, "Chave de Acesso: %s\n", orNA(r.AccessKey))
		fmt.Fprintf(&b, "Valor Total: %s\n", formatBRL(r.TotalValue))
		fmt.Fprintf(&b, "Valor Pago: %s\n", formatOptionalBRL(r.AmountPaid))
		fmt.Fprintf(&b, "Conteúdo QR: %s\n", r.Content)
		b.WriteString(txtSeparator)
		blocks = append(blocks, b.String())
	}
	return []byte(strings.Join(blocks, "\n\n"))
}

// RenderCSV writes one row per receipt
func RenderCSV(receipts []*Receipt) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"ID", "Data", "Empresa", "CNPJ", "Chave Acesso", "Valor Total", "QR Content"}); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	for _, r := range receipts {
		row := []string{
			r.ID,
			r.CreatedAt.Format(dateTimeLayout),
			orNA(r.CompanyName),
			orNA(r.CompanyCNPJ),
			orNA(r.AccessKey),
			r.TotalValue.StringFixed(2),
			r.Content,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing row %s: %w", r.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderXLSX builds a workbook with a receipts sheet and an items sheet
func RenderXLSX(receipts []*Receipt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for _, sheet := range []string{receiptsSheet, itemsSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", sheet, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}
	index, _ := f.GetSheetIndex(receiptsSheet)
	f.SetActiveSheet(index)

	writeRow(f, receiptsSheet, 1, "ID", "Data Emissão", "Hora", "Empresa", "CNPJ", "Cidade", "UF",
		"Chave Acesso", "Itens", "Valor Total", "Valor Pago", "Pagamento", "Status")
	for i, r := range receipts {
		paid := ""
		if r.AmountPaid != nil {
			paid = r.AmountPaid.StringFixed(2)
		}
		writeRow(f, receiptsSheet, i+2,
			r.ID,
			r.EmissionDate,
			r.EmissionTime,
			r.CompanyName,
			FormatCNPJ(r.CompanyCNPJ),
			r.City,
			r.State,
			r.AccessKey,
			r.ItemCount,
			r.TotalValue.InexactFloat64(),
			paid,
			r.PaymentMethod,
			string(r.Status),
		)
	}

	writeRow(f, itemsSheet, 1, "Cupom", "Empresa", "Data Emissão", "Código", "Descrição", "Quantidade", "Unidade", "Valor Total")
	row := 2
	for _, r := range receipts {
		for _, item := range r.Items {
			writeRow(f, itemsSheet, row,
				r.ID,
				r.CompanyName,
				r.EmissionDate,
				item.Code,
				item.Name,
				item.Quantity.InexactFloat64(),
				item.Unit,
				item.LineTotal.InexactFloat64(),
			)
			row++
		}
	}

	_ = f.SetColWidth(receiptsSheet, "A", "A", 38)
	_ = f.SetColWidth(receiptsSheet, "B", "C", 12)
	_ = f.SetColWidth(receiptsSheet, "D", "D", 36)
	_ = f.SetColWidth(receiptsSheet, "E", "E", 20)
	_ = f.SetColWidth(receiptsSheet, "H", "H", 48)
	_ = f.SetColWidth(itemsSheet, "A", "A", 38)
	_ = f.SetColWidth(itemsSheet, "B", "B", 36)
	_ = f.SetColWidth(itemsSheet, "E", "E", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// RenderBackup writes every receipt, items included, as indented JSON
func RenderBackup(receipts []*Receipt, now time.Time) ([]byte, error) {
	return json.MarshalIndent(Backup{
		ExportedAt: now,
		Count:      len(receipts),
		Receipts:   receipts,
	}, "", "  ")
}
