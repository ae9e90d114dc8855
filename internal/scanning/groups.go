package scanning

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	panelConsumer   = "consumidor"
	panelAccessKey  = "chave de acesso"
	panelNotes      = "informacoes complementares"
	panelGeneral    = "informacoes gerais da nota"
	labelTotal      = "valor total r$"
	labelPaid       = "valor pago r$"
	labelPayment    = "forma de pagamento"
	tableOperation  = "destino da operacao"
	tableModel      = "modelo"
	tableEmission   = "data emissao"
	tableTaxBase    = "base de calculo icms"
	tableProtocol   = "protocolo"
	minItemCells    = 4
	minIssuerCells  = 4
	minEmissionCols = 4
)

// extractAddress reads "street, number, neighborhood, CEP - city, state"
// from the issuer header.
func extractAddress(doc *goquery.Document) (Fields, error) {
	cell := doc.Find("table.table.text-center td[style*='display: block']").First()
	if cell.Length() == 0 {
		return Fields{}, sectionNotFound("address")
	}

	parts := strings.Split(cleanText(cell.Text()), ",")
	if len(parts) < 2 {
		return Fields{}, fmt.Errorf("%w: address has %d parts", ErrSectionNotFound, len(parts))
	}

	var f Fields
	f.Street = optional(parts[0])
	number, complement := splitStreetNumber(parts[1])
	f.Number = optional(number)
	f.Complement = optional(complement)
	if len(parts) > 2 {
		f.Neighborhood = optional(parts[2])
	}
	if len(parts) > 3 {
		postalCode, city := splitPostalCity(parts[3])
		f.PostalCode = optional(postalCode)
		f.City = optional(city)
	}
	if len(parts) > 4 {
		f.State = optional(parts[4])
	}
	return f, nil
}

func extractItems(doc *goquery.Document) (Fields, error) {
	table := doc.Find("#myTable")
	if table.Length() == 0 {
		return Fields{}, sectionNotFound("items")
	}

	items := []Item{}
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < minItemCells {
			return
		}

		var item Item
		item.Name, item.Code = splitItemName(cells.Eq(0).Text())
		item.Unit = labelValue(cells.Eq(2).Text())

		quantity, err := parseLocaleDecimal(labelValue(cells.Eq(1).Text()))
		if err != nil || quantity.IsNegative() {
			item.LowConfidence = true
		} else {
			item.Quantity = quantity
		}

		total, err := parseLocaleDecimal(labelValue(cells.Eq(3).Text()))
		if err != nil || total.IsNegative() {
			item.LowConfidence = true
		} else {
			item.LineTotal = total
		}

		items = append(items, item)
	})

	return Fields{Items: items}, nil
}

// extractTotals reads the label/value rows below the item table
func extractTotals(doc *goquery.Document) (Fields, error) {
	var f Fields
	matched := false

	doc.Find("div.row").Each(func(_ int, row *goquery.Selection) {
		strong := row.Find("strong")
		if strong.Length() != 2 {
			return
		}
		label := fold(strong.Eq(0).Text())
		value := cleanText(strong.Eq(1).Text())

		switch {
		case strings.Contains(label, labelTotal):
			matched = true
			if d, err := parseLocaleDecimal(value); err == nil {
				f.TotalValue = &d
			} else {
				f.LowConfidence = append(f.LowConfidence, "total_value")
			}
		case strings.Contains(label, labelPaid):
			matched = true
			if d, err := parseLocaleDecimal(value); err == nil {
				f.AmountPaid = &d
			} else {
				f.LowConfidence = append(f.LowConfidence, "amount_paid")
			}
		case strings.Contains(label, labelPayment):
			matched = true
			f.PaymentMethod = optional(strings.Split(value, " - ")[0])
		}
	})

	if !matched {
		return Fields{}, sectionNotFound("totals")
	}
	return f, nil
}

// findPanel locates an accordion panel by its heading text
func findPanel(doc *goquery.Document, heading string) (*goquery.Selection, error) {
	accordion := doc.Find("#accordion")
	if accordion.Length() == 0 {
		return nil, sectionNotFound("accordion")
	}

	var match *goquery.Selection
	accordion.Find(".panel").EachWithBreak(func(_ int, panel *goquery.Selection) bool {
		text := panel.Find(".panel-heading").First().Text()
		if text == "" {
			text = panel.Text()
		}
		if strings.Contains(fold(text), heading) {
			match = panel
			return false
		}
		return true
	})

	if match == nil {
		return nil, sectionNotFound(heading)
	}
	return match, nil
}

func extractConsumer(doc *goquery.Document) (Fields, error) {
	panel, err := findPanel(doc, panelConsumer)
	if err != nil {
		return Fields{}, err
	}
	cells := dataCells(panel.Find("div.collapse table.table-hover").First())
	if cells.Length() < 3 {
		return Fields{}, sectionNotFound("consumer row")
	}
	return Fields{
		ConsumerName:     optional(cells.Eq(0).Text()),
		ConsumerDocument: optional(cells.Eq(1).Text()),
		ConsumerState:    optional(cells.Eq(2).Text()),
	}, nil
}

// extractAccessKey confirms the key printed on the page. Values that are
// not a full key are dropped.
func extractAccessKey(doc *goquery.Document) (Fields, error) {
	panel, err := findPanel(doc, panelAccessKey)
	if err != nil {
		return Fields{}, err
	}
	cell := panel.Find("table tr td").First()
	if cell.Length() == 0 {
		return Fields{}, sectionNotFound("access key cell")
	}
	key := strings.ToUpper(nonHexPattern.ReplaceAllString(cell.Text(), ""))
	if len(key) != accessKeyLength {
		return Fields{}, fmt.Errorf("%w: access key has %d hex digits", ErrInvalidFormat, len(key))
	}
	return Fields{AccessKey: &key}, nil
}

func extractNotes(doc *goquery.Document) (Fields, error) {
	panel, err := findPanel(doc, panelNotes)
	if err != nil {
		return Fields{}, err
	}
	notes := optional(panel.Find("table tr td").First().Text())
	if notes == nil {
		return Fields{}, sectionNotFound("notes cell")
	}
	return Fields{Notes: notes}, nil
}

// generalTables returns the tables of the general-note panel
func generalTables(doc *goquery.Document) (*goquery.Selection, error) {
	panel, err := findPanel(doc, panelGeneral)
	if err != nil {
		return nil, err
	}
	collapse := panel.Find("div.collapse").First()
	if collapse.Length() == 0 {
		return nil, sectionNotFound("general note body")
	}
	return collapse.Find("table"), nil
}

// tableContaining returns the first table whose text holds every label
func tableContaining(tables *goquery.Selection, labels ...string) *goquery.Selection {
	return tables.FilterFunction(func(_ int, table *goquery.Selection) bool {
		text := fold(table.Text())
		for _, label := range labels {
			if !strings.Contains(text, label) {
				return false
			}
		}
		return true
	}).First()
}

// dataCells returns the cells of the first body row holding data cells,
// skipping heading rows made of th elements.
func dataCells(table *goquery.Selection) *goquery.Selection {
	return table.Find("tbody tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Find("td").Length() > 0
	}).First().Find("td")
}

func extractIssuer(doc *goquery.Document) (Fields, error) {
	tables, err := generalTables(doc)
	if err != nil {
		return Fields{}, err
	}
	cells := dataCells(tables.Filter(".table-hover").First())
	if cells.Length() < minIssuerCells {
		return Fields{}, sectionNotFound("issuer row")
	}
	return Fields{
		CompanyName:  optional(cells.Eq(0).Text()),
		CompanyCNPJ:  optional(cells.Eq(1).Text()),
		CompanyIE:    optional(cells.Eq(2).Text()),
		CompanyState: optional(cells.Eq(3).Text()),
	}, nil
}

// extractOperation reads the operation flags. Each cell holds a code
// followed by its description, and only the code is kept.
func extractOperation(doc *goquery.Document) (Fields, error) {
	tables, err := generalTables(doc)
	if err != nil {
		return Fields{}, err
	}
	divs := tableContaining(tables, tableOperation).Find("tbody tr td div")
	if divs.Length() < 3 {
		return Fields{}, sectionNotFound("operation flags")
	}
	code := func(i int) *string {
		text := cleanText(divs.Eq(i).Text())
		if text == "" {
			return nil
		}
		return optional(string([]rune(text)[0]))
	}
	return Fields{
		OperationDestination: code(0),
		FinalConsumer:        code(1),
		BuyerPresence:        code(2),
	}, nil
}

func extractEmission(doc *goquery.Document) (Fields, error) {
	tables, err := generalTables(doc)
	if err != nil {
		return Fields{}, err
	}
	cells := dataCells(tableContaining(tables, tableModel, tableEmission))
	if cells.Length() < minEmissionCols {
		return Fields{}, sectionNotFound("emission row")
	}

	f := Fields{
		Model:         optional(cells.Eq(0).Text()),
		Series:        optional(cells.Eq(1).Text()),
		ReceiptNumber: optional(cells.Eq(2).Text()),
	}

	stamp := strings.Fields(cells.Eq(3).Text())
	if len(stamp) > 0 {
		if date, err := parseEmissionDate(stamp[0]); err == nil {
			f.EmissionDate = &date
		} else {
			f.LowConfidence = append(f.LowConfidence, "emission_date")
		}
	}
	if len(stamp) > 1 {
		f.EmissionTime = optional(parseEmissionTime(stamp[1]))
	}
	return f, nil
}

func extractTax(doc *goquery.Document) (Fields, error) {
	tables, err := generalTables(doc)
	if err != nil {
		return Fields{}, err
	}
	cells := dataCells(tableContaining(tables, tableTaxBase))
	if cells.Length() < 3 {
		return Fields{}, sectionNotFound("tax row")
	}

	var f Fields
	if d, err := parseLocaleDecimal(cells.Eq(1).Text()); err == nil {
		f.TaxBase = &d
	} else {
		f.LowConfidence = append(f.LowConfidence, "tax_base")
	}
	if d, err := parseLocaleDecimal(cells.Eq(2).Text()); err == nil {
		f.TaxValue = &d
	} else {
		f.LowConfidence = append(f.LowConfidence, "tax_value")
	}
	return f, nil
}

func extractProtocol(doc *goquery.Document) (Fields, error) {
	tables, err := generalTables(doc)
	if err != nil {
		return Fields{}, err
	}
	protocol := optional(tableContaining(tables, tableProtocol).Find("td").First().Text())
	if protocol == nil {
		return Fields{}, sectionNotFound("protocol")
	}
	return Fields{Protocol: protocol}, nil
}
