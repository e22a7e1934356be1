package catalog

import (
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// DuplicateGroup is a set of catalog entries sharing one content digest.
type DuplicateGroup struct {
	// Digest is the shared hex content digest.
	Digest string `json:"digest" yaml:"digest"`

	// Files are the filenames holding that digest, sorted
	// lexicographically.
	Files []string `json:"files" yaml:"files"`

	// Count is len(Files).
	Count int `json:"count" yaml:"count"`
}

// Duplicates groups catalog entries by digest and returns only groups with
// two or more members, ordered by digest then filename. A digest held by a
// single filename never appears.
func (c *Catalog) Duplicates() ([]DuplicateGroup, error) {
	byDigest := make(map[string][]string)

	err := c.view(func(txn *badger.Txn) error {
		return forEachEntry(txn, func(name string, entry Entry) error {
			byDigest[entry.Digest] = append(byDigest[entry.Digest], name)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	groups := make([]DuplicateGroup, 0)
	for dig, files := range byDigest {
		if len(files) < 2 {
			continue
		}
		sort.Strings(files)
		groups = append(groups, DuplicateGroup{Digest: dig, Files: files, Count: len(files)})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Digest < groups[j].Digest
	})
	return groups, nil
}
