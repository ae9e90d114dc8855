package receipt

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timestampLayout sorts lexicographically in time order
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteDB implements the DB interface on SQLite, keeping each receipt as a
// JSON document next to its unique index columns.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at path and applies pending migrations
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection serializes writers without busy retries
	db.SetMaxOpenConns(1)

	version, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Database migrated", "path", path, "version", version)

	return &SQLiteDB{db: db}, nil
}

func runMigrations(db *sql.DB) (uint, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("creating sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("creating iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("running migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("getting migration version: %w", err)
	}
	return version, nil
}

// SaveReceipt inserts or updates a receipt
func (s *SQLiteDB) SaveReceipt(receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	hash := ContentHash(receipt.Content)
	var owner string
	err = tx.QueryRow(
		`SELECT id FROM receipts
		 WHERE id <> ? AND (content_hash = ? OR (access_key <> '' AND access_key = ?))
		 LIMIT 1`,
		receipt.ID, hash, receipt.AccessKey,
	).Scan(&owner)
	switch {
	case err == nil:
		return fmt.Errorf("%w: held by %s", ErrDuplicate, owner)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking duplicates: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO receipts (id, access_key, content_hash, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_key = excluded.access_key,
		   content_hash = excluded.content_hash,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		receipt.ID,
		receipt.AccessKey,
		hash,
		string(data),
		receipt.CreatedAt.UTC().Format(timestampLayout),
		receipt.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}

	return tx.Commit()
}

// GetReceipt retrieves a receipt by ID
func (s *SQLiteDB) GetReceipt(id string) (*Receipt, error) {
	return s.queryOne(`SELECT data FROM receipts WHERE id = ?`, id)
}

// ListReceipts returns all receipts, oldest first
func (s *SQLiteDB) ListReceipts() ([]*Receipt, error) {
	rows, err := s.db.Query(`SELECT data FROM receipts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var receipt Receipt
		if err := json.Unmarshal([]byte(data), &receipt); err != nil {
			return nil, fmt.Errorf("unmarshaling receipt: %w", err)
		}
		receipts = append(receipts, &receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt
func (s *SQLiteDB) DeleteReceipt(id string) error {
	if _, err := s.db.Exec(`DELETE FROM receipts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return nil
}

// FindByAccessKey retrieves the receipt holding an access key
func (s *SQLiteDB) FindByAccessKey(key string) (*Receipt, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.queryOne(`SELECT data FROM receipts WHERE access_key = ?`, key)
}

// FindByContent retrieves the receipt created from scanned content
func (s *SQLiteDB) FindByContent(content string) (*Receipt, error) {
	return s.queryOne(`SELECT data FROM receipts WHERE content_hash = ?`, ContentHash(content))
}

func (s *SQLiteDB) queryOne(query string, arg string) (*Receipt, error) {
	var data string
	err := s.db.QueryRow(query, arg).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}

	var receipt Receipt
	if err := json.Unmarshal([]byte(data), &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
