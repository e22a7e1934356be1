package catalog

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
//  1 - raw filenames, no metadata table, implicit sha1 digests
//  2 - NFKC-normalized filenames, algorithm metadata
const SchemaVersion = 2

const schemaKey = prefixMeta + "__schema__"

// schemaRecord is the stored schema marker.
type schemaRecord struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SchemaVersion returns the catalog's stored schema version. A store with no
// schema record reports 0 when empty (fresh) and 1 when it already holds
// entries (a catalog written before schema records existed).
func (c *Catalog) SchemaVersion() (int, error) {
	var record *schemaRecord
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			record = &schemaRecord{}
			return json.Unmarshal(val, record)
		})
	})
	if err != nil {
		return 0, err
	}

	if record != nil {
		return record.Version, nil
	}
	hasEntries, err := c.hasAnyEntries()
	if err != nil {
		return 0, err
	}
	if hasEntries {
		return 1, nil
	}
	return 0, nil
}

// setSchemaVersion stores the schema marker.
func (c *Catalog) setSchemaVersion(version int) error {
	data, err := json.Marshal(schemaRecord{Version: version, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// hasAnyEntries reports whether the store holds any entry records.
func (c *Catalog) hasAnyEntries() (bool, error) {
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		found = it.Valid()
		return nil
	})
	return found, err
}
