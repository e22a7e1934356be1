package catalog

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/jamesainslie/attest/pkg/attest/digest"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// legacyAlgorithm is the digest algorithm v1 catalogs used implicitly.
const legacyAlgorithm = "sha1"

// migrate brings the store up to the current schema version. Each step runs
// only when the store sits at the exact prior version and advances the
// version on success. A fresh store is initialized directly at the current
// version with defaultAlgorithm as its active algorithm.
//
// If the stored version is ahead of this build, migrate leaves it alone; the
// caller's final version check turns that into a fatal SchemaIncompatible.
func (c *Catalog) migrate(defaultAlgorithm string) error {
	version, err := c.SchemaVersion()
	if err != nil {
		return types.NewError(types.KindIntegrityCheckFailed, c.path, err)
	}

	if version == 0 {
		return c.initialize(defaultAlgorithm)
	}

	for version < SchemaVersion {
		next := version + 1
		c.logger.Info("migrating catalog schema", "from", version, "to", next)

		switch next {
		case 2:
			err = c.migrateToV2()
		default:
			return types.NewError(types.KindSchemaIncompatible, c.path,
				fmt.Errorf("no migration step to schema version %d", next))
		}
		if err != nil {
			return err
		}

		if err := c.setSchemaVersion(next); err != nil {
			return err
		}
		version = next
	}
	return nil
}

// initialize sets up a brand-new catalog at the current schema version.
func (c *Catalog) initialize(defaultAlgorithm string) error {
	if defaultAlgorithm == "" {
		defaultAlgorithm = digest.Default
	}
	if err := validateDefaultAlgorithm(defaultAlgorithm); err != nil {
		return err
	}
	if err := c.SetMetadata(MetaAlgorithm, defaultAlgorithm); err != nil {
		return err
	}
	c.logger.Info("initialized catalog", "path", c.path, "algorithm", defaultAlgorithm)
	return c.setSchemaVersion(SchemaVersion)
}

// migrateToV2 rewrites v1 entry keys into normalized form and records the
// implicit legacy algorithm in metadata. Two v1 records that collapse to one
// normalized filename violate the one-entry-per-filename invariant and abort
// the migration.
func (c *Catalog) migrateToV2() error {
	type rename struct {
		from string
		to   string
	}
	var renames []rename

	err := c.db.View(func(txn *badger.Txn) error {
		seen := make(map[string]string)
		return forEachEntry(txn, func(name string, _ Entry) error {
			normalized := NormalizeName(name)
			if prior, ok := seen[normalized]; ok {
				return types.NewError(types.KindMultipleRecords, normalized,
					fmt.Errorf("records %q and %q normalize to the same filename", prior, name))
			}
			seen[normalized] = name
			if normalized != name {
				renames = append(renames, rename{from: name, to: normalized})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, r := range renames {
		err := c.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(prefixEntry + r.from))
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(prefixEntry+r.to), val); err != nil {
				return err
			}
			return txn.Delete([]byte(prefixEntry + r.from))
		})
		if err != nil {
			return fmt.Errorf("normalizing catalog entry %q: %w", r.from, err)
		}
	}

	if _, err := c.GetMetadata(MetaAlgorithm); errors.Is(err, ErrNotFound) {
		if err := c.SetMetadata(MetaAlgorithm, legacyAlgorithm); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	c.logger.Info("normalized catalog entries", "renamed", len(renames))
	return nil
}
