package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
)

// indexSeparator отделяет нормализованное имя от id в ключе индекса.
// \x00 меньше любого печатного символа, поэтому порядок ключей индекса
// совпадает с порядком имен.
const indexSeparator = "\x00"

// namedDoc вытаскивает из документа только поле name для ведения индекса.
type namedDoc struct {
	Name string `json:"name"`
}

// SaveDocument writes doc into collection and, when op is non-nil, appends op
// to the outbox in the same transaction. For products the lowercase name index
// is maintained as part of the same transaction.
func (s *Storage) SaveDocument(ctx context.Context, collection string, doc models.Document, op *models.OutboxOp) error {
	id := doc.ID()
	if id == "" {
		return store.ErrMissingID
	}

	bucketName, err := collectionBucket(collection)
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		if err := putDocTx(tx, bucketName, collection, id, data); err != nil {
			return err
		}
		if op != nil {
			return appendOpTx(tx, op)
		}
		return nil
	})
}

// GetDocument retrieves a document by id.
func (s *Storage) GetDocument(ctx context.Context, collection, id string) (models.Document, error) {
	bucketName, err := collectionBucket(collection)
	if err != nil {
		return nil, err
	}

	var doc models.Document
	err = s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(id))
		if data == nil {
			return store.ErrNotFound
		}
		doc = models.Document{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document and, when op is non-nil, appends op to the
// outbox in the same transaction. Absent documents are deleted silently.
func (s *Storage) DeleteDocument(ctx context.Context, collection, id string, op *models.OutboxOp) error {
	bucketName, err := collectionBucket(collection)
	if err != nil {
		return err
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		if err := deleteDocTx(tx, bucketName, collection, id); err != nil {
			return err
		}
		if op != nil {
			return appendOpTx(tx, op)
		}
		return nil
	})
}

// ProductsByPrefix returns products whose name starts with prefix,
// case-insensitively, in index key order.
func (s *Storage) ProductsByPrefix(ctx context.Context, prefix string) ([]models.Product, error) {
	seek := []byte(strings.ToLower(prefix))

	var products []models.Product
	err := s.view(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketProductsName)
		docs := tx.Bucket(bucketProducts)

		c := idx.Cursor()
		for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, v = c.Next() {
			data := docs.Get(v)
			if data == nil {
				// Осиротевший ключ индекса; документ удален
				continue
			}
			var p models.Product
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("failed to unmarshal product: %w", err)
			}
			products = append(products, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

// putDocTx writes raw document bytes and keeps the products name index in step.
func putDocTx(tx *bbolt.Tx, bucketName []byte, collection, id string, data []byte) error {
	bucket := tx.Bucket(bucketName)

	if collection == models.CollectionProducts {
		if err := reindexProductTx(tx, bucket, id, data); err != nil {
			return err
		}
	}

	if err := bucket.Put([]byte(id), data); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// deleteDocTx removes a document and its products index entry if any.
func deleteDocTx(tx *bbolt.Tx, bucketName []byte, collection, id string) error {
	bucket := tx.Bucket(bucketName)

	if collection == models.CollectionProducts {
		if existing := bucket.Get([]byte(id)); existing != nil {
			if err := dropProductIndexTx(tx, id, existing); err != nil {
				return err
			}
		}
	}

	if err := bucket.Delete([]byte(id)); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// reindexProductTx replaces the name index entry for a product write.
func reindexProductTx(tx *bbolt.Tx, products *bbolt.Bucket, id string, data []byte) error {
	if existing := products.Get([]byte(id)); existing != nil {
		if err := dropProductIndexTx(tx, id, existing); err != nil {
			return err
		}
	}

	var doc namedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal product name: %w", err)
	}

	key := productIndexKey(doc.Name, id)
	if err := tx.Bucket(bucketProductsName).Put(key, []byte(id)); err != nil {
		return fmt.Errorf("failed to update products index: %w", err)
	}
	return nil
}

// dropProductIndexTx removes the index entry derived from stored bytes.
func dropProductIndexTx(tx *bbolt.Tx, id string, data []byte) error {
	var doc namedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal product name: %w", err)
	}
	if err := tx.Bucket(bucketProductsName).Delete(productIndexKey(doc.Name, id)); err != nil {
		return fmt.Errorf("failed to drop products index entry: %w", err)
	}
	return nil
}

func productIndexKey(name, id string) []byte {
	return []byte(strings.ToLower(name) + indexSeparator + id)
}
