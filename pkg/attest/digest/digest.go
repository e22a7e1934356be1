// Package digest computes content digests for the attest catalog. Files are
// streamed in fixed-size chunks through one or two hash algorithms at once, so
// an algorithm migration pass never has to read a file's content twice.
//
// Algorithms are drawn from a fixed allow-list of strong hash functions.
// Weaker legacy algorithms remain decodable so old catalogs can still be
// verified, but they are never selectable for new catalogs or as a migration
// target.
package digest

import (
	"crypto/md5"  //nolint:gosec // legacy read-only algorithm for old catalogs
	"crypto/sha1" //nolint:gosec // legacy read-only algorithm for old catalogs
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"

	"github.com/jamesainslie/attest/pkg/attest/types"
	"golang.org/x/crypto/blake2b"
)

// ChunkSize is the read buffer size used when streaming file content. It is a
// throughput tuning constant: any chunk size yields the same digest.
const ChunkSize = 512 * 1024

// Default is the algorithm used for catalogs that do not request one.
const Default = "sha256"

// ErrUnknown is returned for algorithm names not in the registry.
var ErrUnknown = errors.New("unknown digest algorithm")

// ErrNotSelectable is returned when a legacy algorithm is requested for a new
// catalog or as a migration target.
var ErrNotSelectable = errors.New("algorithm not selectable for new catalogs")

// Algorithm describes one entry of the digest algorithm registry.
type Algorithm struct {
	// Name is the canonical algorithm name stored in catalog metadata.
	Name string

	// Legacy marks algorithms accepted when reading old catalogs but
	// rejected for new catalogs and migration targets.
	Legacy bool

	// New constructs a fresh hash state.
	New func() hash.Hash
}

// registry is the fixed allow-list. blake2b.New256 only errors when given a
// key, so the unkeyed constructor is safe to wrap.
var registry = map[string]*Algorithm{
	"sha256":     {Name: "sha256", New: sha256.New},
	"sha512":     {Name: "sha512", New: sha512.New},
	"blake2b256": {Name: "blake2b256", New: func() hash.Hash { h, _ := blake2b.New256(nil); return h }},
	"sha1":       {Name: "sha1", Legacy: true, New: sha1.New},
	"md5":        {Name: "md5", Legacy: true, New: md5.New},
}

// Get returns the algorithm registered under name. Legacy algorithms are
// returned so old catalogs stay verifiable; use Select when the algorithm
// will address new content.
func Get(name string) (*Algorithm, error) {
	a, ok := registry[name]
	if !ok {
		return nil, types.NewError(types.KindAlgorithmUnsupported, "",
			fmt.Errorf("%w: %q", ErrUnknown, name))
	}
	return a, nil
}

// Select returns the algorithm registered under name, rejecting legacy
// algorithms. It is the lookup used for new catalogs and migration targets.
func Select(name string) (*Algorithm, error) {
	a, err := Get(name)
	if err != nil {
		return nil, err
	}
	if a.Legacy {
		return nil, types.NewError(types.KindAlgorithmUnsupported, "",
			fmt.Errorf("%w: %q", ErrNotSelectable, name))
	}
	return a, nil
}

// Selectable returns the sorted names of algorithms valid for new catalogs.
func Selectable() []string {
	names := make([]string, 0, len(registry))
	for name, a := range registry {
		if !a.Legacy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Sum streams r to completion through the given algorithms and returns one
// hex digest per algorithm, in argument order, plus the number of bytes read.
func Sum(r io.Reader, algos ...*Algorithm) ([]string, int64, error) {
	hashers := make([]hash.Hash, len(algos))
	writers := make([]io.Writer, len(algos))
	for i, a := range algos {
		hashers[i] = a.New()
		writers[i] = hashers[i]
	}

	n, err := io.CopyBuffer(io.MultiWriter(writers...), r, make([]byte, ChunkSize))
	if err != nil {
		return nil, n, err
	}

	sums := make([]string, len(hashers))
	for i, h := range hashers {
		sums[i] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, n, nil
}

// File opens path and digests its content under the given algorithms,
// returning one hex digest per algorithm and the file size in bytes read.
//
// An open or read failure is classified as KindUnreadable; a file that stops
// being a regular file mid-read (e.g. replaced by a directory) is classified
// as KindTypeMismatch. Both are file-level errors the scan recovers from.
func File(path string, algos ...*Algorithm) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, types.NewError(types.KindUnreadable, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, types.NewError(types.KindUnreadable, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, types.NewError(types.KindTypeMismatch, path,
			fmt.Errorf("not a regular file: mode %s", info.Mode()))
	}

	sums, n, err := Sum(f, algos...)
	if err != nil {
		// A read error on an open regular file usually means the entry
		// changed underneath us; EISDIR and friends land here.
		return nil, n, types.NewError(types.KindTypeMismatch, path, err)
	}
	return sums, n, nil
}
