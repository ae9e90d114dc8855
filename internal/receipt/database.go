package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName          = "receipts"
	accessKeyBucketName = "access_keys"
	contentBucketName   = "contents"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt inserts or updates a receipt. It returns ErrDuplicate when
	// the access key or content belongs to a different receipt.
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// FindByAccessKey retrieves the receipt holding an access key
	FindByAccessKey(key string) (*Receipt, error)

	// FindByContent retrieves the receipt created from scanned content
	FindByContent(content string) (*Receipt, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, accessKeyBucketName, contentBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt and its index entries in one transaction
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		keys := tx.Bucket([]byte(accessKeyBucketName))
		contents := tx.Bucket([]byte(contentBucketName))

		hash := ContentHash(receipt.Content)
		if owner := contents.Get([]byte(hash)); owner != nil && string(owner) != receipt.ID {
			return fmt.Errorf("%w: content already scanned as %s", ErrDuplicate, owner)
		}
		if receipt.AccessKey != "" {
			if owner := keys.Get([]byte(receipt.AccessKey)); owner != nil && string(owner) != receipt.ID {
				return fmt.Errorf("%w: access key %s held by %s", ErrDuplicate, receipt.AccessKey, owner)
			}
		}

		// drop index entries of the previous version
		if previous := bucket.Get([]byte(receipt.ID)); previous != nil {
			var old Receipt
			if err := json.Unmarshal(previous, &old); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if err := removeIndexes(tx, &old); err != nil {
				return err
			}
		}

		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put([]byte(receipt.ID), data); err != nil {
			return err
		}
		if err := contents.Put([]byte(hash), []byte(receipt.ID)); err != nil {
			return err
		}
		if receipt.AccessKey != "" {
			return keys.Put([]byte(receipt.AccessKey), []byte(receipt.ID))
		}
		return nil
	})
}

func removeIndexes(tx *bbolt.Tx, receipt *Receipt) error {
	if err := tx.Bucket([]byte(contentBucketName)).Delete([]byte(ContentHash(receipt.Content))); err != nil {
		return err
	}
	if receipt.AccessKey != "" {
		return tx.Bucket([]byte(accessKeyBucketName)).Delete([]byte(receipt.AccessKey))
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getReceipt(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func getReceipt(tx *bbolt.Tx, id string) (*Receipt, error) {
	data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its index entries
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		if err := removeIndexes(tx, &receipt); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// FindByAccessKey retrieves the receipt holding an access key
func (b *BoltDB) FindByAccessKey(key string) (*Receipt, error) {
	return b.findBy(accessKeyBucketName, key)
}

// FindByContent retrieves the receipt created from scanned content
func (b *BoltDB) FindByContent(content string) (*Receipt, error) {
	return b.findBy(contentBucketName, ContentHash(content))
}

func (b *BoltDB) findBy(index, value string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(index)).Get([]byte(value))
		if id == nil {
			return ErrNotFound
		}
		var err error
		receipt, err = getReceipt(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
