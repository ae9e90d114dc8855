package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldGroup extracts one independent section of a receipt page
type FieldGroup interface {
	Name() string
	Extract(doc *goquery.Document) (Fields, error)
}

type groupFunc struct {
	name string
	fn   func(doc *goquery.Document) (Fields, error)
}

func (g groupFunc) Name() string { return g.name }

func (g groupFunc) Extract(doc *goquery.Document) (Fields, error) { return g.fn(doc) }

// DefaultGroups returns the field groups of the tax-authority receipt page
func DefaultGroups() []FieldGroup {
	return []FieldGroup{
		groupFunc{"address", extractAddress},
		groupFunc{"items", extractItems},
		groupFunc{"totals", extractTotals},
		groupFunc{"consumer", extractConsumer},
		groupFunc{"access_key", extractAccessKey},
		groupFunc{"notes", extractNotes},
		groupFunc{"issuer", extractIssuer},
		groupFunc{"operation", extractOperation},
		groupFunc{"emission", extractEmission},
		groupFunc{"tax", extractTax},
		groupFunc{"protocol", extractProtocol},
	}
}

// Extractor runs field groups over a document. A failing group leaves its
// fields absent and never affects the others.
type Extractor struct {
	groups []FieldGroup
}

// NewExtractor creates an extractor, using DefaultGroups when none are given
func NewExtractor(groups ...FieldGroup) *Extractor {
	if len(groups) == 0 {
		groups = DefaultGroups()
	}
	return &Extractor{groups: groups}
}

// Extract returns every field the groups could find. It only fails when ctx
// is done; malformed or unrelated markup yields empty fields.
func (e *Extractor) Extract(ctx context.Context, raw string) (*Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := &Fields{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		slog.Warn("Failed to parse receipt document", "error", err)
		return fields, nil
	}

	for _, group := range e.groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fragment, err := runGroup(group, doc)
		if err != nil {
			slog.Debug("Field group skipped", "group", group.Name(), "error", err)
			continue
		}
		fields.Overlay(fragment)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return fields, nil
}

func runGroup(group FieldGroup, doc *goquery.Document) (fragment Fields, err error) {
	defer func() {
		if r := recover(); r != nil {
			fragment = Fields{}
			err = fmt.Errorf("group %s panicked: %v", group.Name(), r)
		}
	}()
	return group.Extract(doc)
}
