// Package catalog provides the Badger-backed persistent catalog for attest.
// The catalog maps each tracked filename to its last-confirmed modification
// time and content digest, plus a small metadata table holding the active
// digest algorithm and the schema version.
//
// Filenames are the unique keys. They are stored relative to the scan root,
// NFKC-normalized, forward-slash separated and newline-normalized, so the same
// file produces the same key regardless of platform path encoding.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jamesainslie/attest/pkg/attest/digest"
	"github.com/jamesainslie/attest/pkg/attest/logging"
	"github.com/jamesainslie/attest/pkg/attest/types"
	"golang.org/x/text/unicode/norm"
)

// Key prefixes for the two record tables.
const (
	prefixEntry = "e:" // filename -> (mtime, digest)
	prefixMeta  = "m:" // metadata key -> value
)

// MetaAlgorithm is the metadata key holding the active digest algorithm.
const MetaAlgorithm = "algorithm"

// ErrNotFound is returned when a filename or metadata key is not in the
// catalog.
var ErrNotFound = errors.New("not found in catalog")

// Entry is one catalog record: the last-confirmed state of a tracked file.
type Entry struct {
	// Name is the normalized filename, relative to the scan root.
	Name string `json:"-"`

	// Mtime is the last-observed modification time, UTC, second
	// precision, as Unix seconds.
	Mtime int64 `json:"mtime"`

	// Digest is the hex content digest under the catalog's active
	// algorithm.
	Digest string `json:"digest"`
}

// NormalizeName converts a relative path into canonical catalog key form:
// forward-slash separated, NFKC-normalized, with newlines normalized to \n.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\r\n", "\n")
	name = strings.ReplaceAll(name, "\r", "\n")
	return norm.NFKC.String(name)
}

// Catalog is the persistent record store for one tracked tree.
type Catalog struct {
	db     *badger.DB
	path   string
	logger *logging.Logger

	// txn is the enclosing scan transaction; nested Begin calls collapse
	// into it via depth, so only one physical transaction is ever active.
	// dryRun marks a transaction that must never reach disk, even through
	// an oversized-transaction renewal.
	txn    *badger.Txn
	depth  int
	dryRun bool
}

// Open opens or creates the catalog at path. A fresh catalog is initialized
// at the current schema version with defaultAlgorithm as its active digest
// algorithm; defaultAlgorithm must be selectable (not legacy).
//
// Opening runs, in order: a structural integrity self-check, pending schema
// migrations, and a final version check. Any failure there is fatal: the
// catalog cannot be trusted.
func Open(path, defaultAlgorithm string) (*Catalog, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening catalog at %s: %w", path, err)
	}

	c := &Catalog{db: db, path: path, logger: logging.Get("catalog")}

	if err := c.integrityCheck(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := c.migrate(defaultAlgorithm); err != nil {
		_ = db.Close()
		return nil, err
	}

	version, err := c.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if version != SchemaVersion {
		_ = db.Close()
		return nil, types.NewError(types.KindSchemaIncompatible, path,
			fmt.Errorf("catalog schema version %d, this build requires %d", version, SchemaVersion))
	}

	return c, nil
}

// Close closes the catalog, discarding any open transaction.
func (c *Catalog) Close() error {
	if c.txn != nil {
		c.txn.Discard()
		c.txn = nil
		c.depth = 0
	}
	return c.db.Close()
}

// Path returns the directory the catalog lives in, for the scan skip filter.
func (c *Catalog) Path() string {
	return c.path
}

// Begin opens the enclosing transaction, or joins the one already active.
// Every Begin must be paired with exactly one Commit or Rollback.
func (c *Catalog) Begin() {
	c.depth++
	if c.depth == 1 {
		c.txn = c.db.NewTransaction(true)
	}
}

// BeginDryRun opens the enclosing transaction like Begin, but marks it as
// never-to-commit: Commit discards it, and an oversized transaction is
// discarded and renewed instead of committed. Joining an active transaction
// does not change its mode.
func (c *Catalog) BeginDryRun() {
	c.Begin()
	if c.depth == 1 {
		c.dryRun = true
	}
}

// Commit leaves the current transaction scope, committing the physical
// transaction when the outermost scope ends. A dry-run transaction is
// discarded instead.
func (c *Catalog) Commit() error {
	if c.depth == 0 {
		return errors.New("commit without matching begin")
	}
	c.depth--
	if c.depth > 0 {
		return nil
	}
	if c.dryRun {
		c.txn.Discard()
		c.txn = nil
		c.dryRun = false
		return nil
	}
	err := c.txn.Commit()
	c.txn = nil
	if err != nil {
		return fmt.Errorf("committing catalog transaction: %w", err)
	}
	return nil
}

// Rollback discards the enclosing transaction entirely, regardless of
// nesting depth.
func (c *Catalog) Rollback() {
	if c.txn != nil {
		c.txn.Discard()
	}
	c.txn = nil
	c.depth = 0
	c.dryRun = false
}

// InTransaction reports whether an enclosing transaction is active.
func (c *Catalog) InTransaction() bool {
	return c.depth > 0
}

// Get returns the entry for name, or ErrNotFound. The lookup key is
// normalized, so at most one record can match; catalogs where two stored
// records collapse to one normalized name are rejected at open time.
func (c *Catalog) Get(name string) (*Entry, error) {
	key := entryKey(name)
	var entry Entry

	err := c.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}

	entry.Name = NormalizeName(name)
	return &entry, nil
}

// Upsert creates or overwrites the entry for name.
func (c *Catalog) Upsert(name string, mtime time.Time, dig string) error {
	val, err := json.Marshal(Entry{Mtime: mtime.UTC().Unix(), Digest: dig})
	if err != nil {
		return err
	}
	return c.set(entryKey(name), val)
}

// Touch updates only the stored mtime for name, leaving the digest in place.
// Used when content is confirmed unchanged but timestamp metadata moved.
func (c *Catalog) Touch(name string, mtime time.Time) error {
	entry, err := c.Get(name)
	if err != nil {
		return err
	}
	val, err := json.Marshal(Entry{Mtime: mtime.UTC().Unix(), Digest: entry.Digest})
	if err != nil {
		return err
	}
	return c.set(entryKey(name), val)
}

// Delete removes the entry for name. Deleting an absent name is not an error.
func (c *Catalog) Delete(name string) error {
	return c.delete(entryKey(name))
}

// SetMetadata stores a metadata value with upsert semantics.
func (c *Catalog) SetMetadata(key, value string) error {
	return c.set(metaKey(key), []byte(value))
}

// GetMetadata returns the metadata value for key, or ErrNotFound.
func (c *Catalog) GetMetadata(key string) (string, error) {
	var value string
	err := c.view(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: metadata %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}

// Algorithm returns the catalog's active digest algorithm.
func (c *Catalog) Algorithm() (string, error) {
	return c.GetMetadata(MetaAlgorithm)
}

// Snapshot returns every catalog entry keyed by filename. The scan session
// takes this at scan start as the missing working set.
func (c *Catalog) Snapshot() (map[string]Entry, error) {
	entries := make(map[string]Entry)
	err := c.view(func(txn *badger.Txn) error {
		return forEachEntry(txn, func(name string, entry Entry) error {
			entry.Name = name
			entries[name] = entry
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() (int, error) {
	n := 0
	err := c.view(func(txn *badger.Txn) error {
		return forEachEntry(txn, func(string, Entry) error {
			n++
			return nil
		})
	})
	return n, err
}

// EntryNames returns all catalog filenames sorted lexicographically.
func (c *Catalog) EntryNames() ([]string, error) {
	var names []string
	err := c.view(func(txn *badger.Txn) error {
		return forEachEntry(txn, func(name string, _ Entry) error {
			names = append(names, name)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// integrityCheck verifies the structural soundness of the underlying store:
// every key carries a known prefix and every entry value decodes. It runs
// before schema migration so migrations never operate on a broken store.
func (c *Catalog) integrityCheck() error {
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			switch {
			case strings.HasPrefix(key, prefixEntry):
				err := item.Value(func(val []byte) error {
					var entry Entry
					if err := json.Unmarshal(val, &entry); err != nil {
						return fmt.Errorf("undecodable entry %q: %w", key[len(prefixEntry):], err)
					}
					return nil
				})
				if err != nil {
					return err
				}
			case strings.HasPrefix(key, prefixMeta):
				// Metadata values are opaque strings.
			default:
				return fmt.Errorf("unrecognized key %q", key)
			}
		}
		return nil
	})
	if err != nil {
		return types.NewError(types.KindIntegrityCheckFailed, c.path, err)
	}
	return nil
}

// view runs fn against the enclosing transaction when one is active, so reads
// observe the scan's own uncommitted writes, and against a read-only
// transaction otherwise.
func (c *Catalog) view(fn func(*badger.Txn) error) error {
	if c.txn != nil {
		return fn(c.txn)
	}
	return c.db.View(fn)
}

// set writes key inside the enclosing transaction when one is active. An
// oversized transaction is committed and renewed transparently; only whole
// groups of related mutations are ever issued between renewal points.
func (c *Catalog) set(key, val []byte) error {
	if c.txn == nil {
		return c.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, val)
		})
	}
	err := c.txn.Set(key, val)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := c.renew(); err != nil {
			return err
		}
		return c.txn.Set(key, val)
	}
	return err
}

// delete removes key inside the enclosing transaction when one is active.
func (c *Catalog) delete(key []byte) error {
	if c.txn == nil {
		return c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
	}
	err := c.txn.Delete(key)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := c.renew(); err != nil {
			return err
		}
		return c.txn.Delete(key)
	}
	return err
}

// renew commits the current physical transaction and opens a fresh one. A
// dry-run transaction is discarded instead, so no renewal path can reach disk.
func (c *Catalog) renew() error {
	if c.dryRun {
		c.logger.Debug("dry-run transaction full, discarding and renewing")
		c.txn.Discard()
		c.txn = c.db.NewTransaction(true)
		return nil
	}
	c.logger.Debug("transaction full, committing and renewing")
	if err := c.txn.Commit(); err != nil {
		c.txn = c.db.NewTransaction(true)
		return fmt.Errorf("renewing catalog transaction: %w", err)
	}
	c.txn = c.db.NewTransaction(true)
	return nil
}

// forEachEntry iterates every entry record in key order.
func forEachEntry(txn *badger.Txn, fn func(name string, entry Entry) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEntry)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		name := string(item.Key()[len(prefixEntry):])

		var entry Entry
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			return err
		}
		if err := fn(name, entry); err != nil {
			return err
		}
	}
	return nil
}

func entryKey(name string) []byte {
	return []byte(prefixEntry + NormalizeName(name))
}

func metaKey(key string) []byte {
	return []byte(prefixMeta + key)
}

// validateDefaultAlgorithm checks that a fresh catalog is created with a
// selectable algorithm. Legacy algorithms stay readable for old catalogs but
// can never address a new one.
func validateDefaultAlgorithm(name string) error {
	_, err := digest.Select(name)
	return err
}
