package receipt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessScan runs scanned content through the pipeline and stores the
// result. Content or access keys already on file return ErrDuplicate along
// with the existing receipt.
func (s *Service) ProcessScan(ctx context.Context, content string) (*Receipt, error) {
	if existing, err := s.db.FindByContent(content); err == nil {
		return existing, fmt.Errorf("%w: content already scanned as %s", ErrDuplicate, existing.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking content: %w", err)
	}

	record, err := s.scanner.Process(ctx, content)
	if err != nil {
		slog.Error("Failed to process scan", "content_length", len(content), "error", err)
		return nil, fmt.Errorf("processing scan: %w", err)
	}

	if record.AccessKey != "" {
		if existing, err := s.db.FindByAccessKey(record.AccessKey); err == nil {
			return existing, fmt.Errorf("%w: access key %s already stored as %s", ErrDuplicate, record.AccessKey, existing.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("checking access key: %w", err)
		}
	}

	now := s.timeSource.Now()
	receipt := &Receipt{
		ID:        s.idGenerator.Generate(),
		Record:    *record,
		CreatedAt: now,
		UpdatedAt: now,
	}

	snapshot := ""
	if record.Document != "" {
		snapshot, err = s.storage.Save(snapshotName(receipt.ID), []byte(record.Document))
		if err != nil {
			return nil, fmt.Errorf("saving document snapshot: %w", err)
		}
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		if snapshot != "" {
			s.storage.Delete(snapshot)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt saved",
		"id", receipt.ID,
		"category", receipt.Category,
		"status", receipt.Status,
		"access_key", receipt.AccessKey)
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns the receipts matching filter, newest emission first
func (s *Service) ListReceipts(filter Filter) ([]*Receipt, error) {
	all, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if filter.Match(r) {
			receipts = append(receipts, r)
		}
	}

	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		if c := cmp.Compare(b.EmissionDate, a.EmissionDate); c != 0 {
			return c
		}
		if c := cmp.Compare(b.EmissionTime, a.EmissionTime); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return receipts, nil
}

// ListItems returns purchased items, newest receipt first. An empty
// receiptID lists the items of every receipt.
func (s *Service) ListItems(receiptID string) ([]ItemRow, error) {
	var receipts []*Receipt
	if receiptID != "" {
		receipt, err := s.GetReceipt(receiptID)
		if err != nil {
			return nil, err
		}
		receipts = []*Receipt{receipt}
	} else {
		var err error
		receipts, err = s.ListReceipts(Filter{})
		if err != nil {
			return nil, err
		}
	}

	rows := make([]ItemRow, 0)
	for _, r := range receipts {
		for _, item := range r.Items {
			rows = append(rows, ItemRow{
				ReceiptID:    r.ID,
				CompanyName:  r.CompanyName,
				EmissionDate: r.EmissionDate,
				Item:         item,
			})
		}
	}
	return rows, nil
}

// DeleteReceipt removes a receipt and its document snapshot
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Route != "" {
		if err := s.storage.Delete(snapshotName(id)); err != nil {
			slog.Warn("Failed to delete document snapshot", "id", id, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptDocument returns the document snapshot stored for a receipt
func (s *Service) GetReceiptDocument(id string) ([]byte, error) {
	if _, err := s.db.GetReceipt(id); err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(snapshotName(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no document stored for %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt document: %w", err)
	}
	return data, nil
}

// ReprocessReceipt re-extracts a receipt from its stored document, picking up
// extraction changes without another network round trip.
func (s *Service) ReprocessReceipt(ctx context.Context, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	document, err := s.GetReceiptDocument(id)
	if err != nil {
		return nil, err
	}

	record, err := s.scanner.Reextract(ctx, receipt.Content, string(document))
	if err != nil {
		return nil, fmt.Errorf("re-extracting receipt: %w", err)
	}

	receipt.Record = *record
	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt reprocessed", "id", id, "status", receipt.Status)
	return receipt, nil
}
