// Package types provides core data types shared across the attest integrity
// checker: per-scan counters, the scan report consumed by output formatters,
// and the closed error-kind taxonomy used for classification decisions.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Counters holds the per-scan classification tallies. All values are
// non-negative and reset at the start of every scan; they drive the end-of-run
// report and gate destructive actions (missing-file deletion, algorithm
// migration).
type Counters struct {
	// Good is the number of files whose digest matched the catalog.
	Good int `json:"good" yaml:"good"`

	// Updated is the number of files whose content and mtime both changed
	// and whose catalog entry was overwritten.
	Updated int `json:"updated" yaml:"updated"`

	// New is the number of files not previously known by filename.
	New int `json:"new" yaml:"new"`

	// Renamed is the number of catalog rows deleted by content-addressed
	// rename matching at the end of the walk.
	Renamed int `json:"renamed" yaml:"renamed"`

	// Missing is the number of catalog entries still unaccounted for after
	// rename resolution.
	Missing int `json:"missing" yaml:"missing"`

	// LikelyDamaged is the number of files whose digest changed while the
	// mtime did not, which signals corruption rather than an edit.
	LikelyDamaged int `json:"likely_damaged" yaml:"likely_damaged"`

	// Exceptions is the number of file-level errors recovered during the
	// scan (unreadable files, mid-read type changes, unreadable subtrees).
	Exceptions int `json:"exceptions" yaml:"exceptions"`
}

// FileError pairs a path with the error recorded for it during a scan.
type FileError struct {
	// Path is the catalog-relative filename where the error occurred.
	Path string `json:"path" yaml:"path"`

	// Message is the human-readable error description.
	Message string `json:"message" yaml:"message"`

	// Kind is the classified error kind.
	Kind ErrorKind `json:"kind" yaml:"kind"`
}

// Report is the complete result of one reconciliation pass.
type Report struct {
	// Root is the absolute path of the scanned tree.
	Root string `json:"root" yaml:"root"`

	// Algorithm is the digest algorithm the catalog ended the scan with.
	Algorithm string `json:"algorithm" yaml:"algorithm"`

	// MigrationTarget is the requested algorithm when a migration was in
	// progress this pass, empty otherwise.
	MigrationTarget string `json:"migration_target,omitempty" yaml:"migration_target,omitempty"`

	// Migrated reports whether the algorithm migration committed.
	Migrated bool `json:"migrated" yaml:"migrated"`

	// ReportOnly reports whether the scan ran without committing catalog
	// changes.
	ReportOnly bool `json:"report_only" yaml:"report_only"`

	// Counters holds the classification tallies for this pass.
	Counters Counters `json:"counters" yaml:"counters"`

	// MissingFiles lists the filenames still missing after rename
	// resolution, sorted lexicographically.
	MissingFiles []string `json:"missing_files,omitempty" yaml:"missing_files,omitempty"`

	// DamagedFiles lists the filenames classified as likely damaged.
	DamagedFiles []string `json:"damaged_files,omitempty" yaml:"damaged_files,omitempty"`

	// Errors lists the file-level errors recovered during the scan.
	Errors []FileError `json:"errors,omitempty" yaml:"errors,omitempty"`

	// FilesScanned is the number of regular files examined.
	FilesScanned int64 `json:"files_scanned" yaml:"files_scanned"`

	// BytesHashed is the total number of bytes fed through the digest
	// engine this pass.
	BytesHashed int64 `json:"bytes_hashed" yaml:"bytes_hashed"`

	// Elapsed is the scan duration, excluding time spent waiting on the
	// operator at confirmation prompts.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Clean reports whether the pass needs no attention. A pass is clean when no
// files are missing, likely damaged, or failed with exceptions; the CLI maps
// an unclean pass to a non-zero exit code.
func (r *Report) Clean() bool {
	return r.Counters.Missing == 0 && r.Counters.LikelyDamaged == 0 && r.Counters.Exceptions == 0
}

// ErrorKind is the closed enumeration of error conditions the engine
// distinguishes. Callers can branch exhaustively on it; anything not covered
// by a specific kind is reported as KindIO.
type ErrorKind int

// Error kinds, from recoverable file-level conditions to fatal catalog
// consistency failures.
const (
	// KindIO is the generic fallback for unexpected I/O errors.
	KindIO ErrorKind = iota

	// KindUnreadable marks a file that could not be opened or read.
	KindUnreadable

	// KindTypeMismatch marks a file that changed type mid-read, e.g.
	// became a directory between stat and open.
	KindTypeMismatch

	// KindMultipleRecords marks a catalog holding more than one record for
	// a single normalized filename. Fatal.
	KindMultipleRecords

	// KindSchemaIncompatible marks a catalog whose schema version cannot
	// be migrated to the version this build requires. Fatal.
	KindSchemaIncompatible

	// KindIntegrityCheckFailed marks a catalog that failed the structural
	// self-check at open time. Fatal.
	KindIntegrityCheckFailed

	// KindAlgorithmUnsupported marks a digest algorithm that is unknown or
	// not selectable for new catalogs.
	KindAlgorithmUnsupported
)

// String returns the stable string form of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreadable:
		return "unreadable"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindMultipleRecords:
		return "multiple_records"
	case KindSchemaIncompatible:
		return "schema_incompatible"
	case KindIntegrityCheckFailed:
		return "integrity_check_failed"
	case KindAlgorithmUnsupported:
		return "algorithm_unsupported"
	default:
		return "io"
	}
}

// MarshalText implements encoding.TextMarshaler so kinds render as their
// string form in JSON and YAML reports.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Fatal reports whether errors of this kind abort the run. Fatal kinds
// indicate the catalog itself cannot be trusted.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindMultipleRecords, KindSchemaIncompatible, KindIntegrityCheckFailed:
		return true
	default:
		return false
	}
}

// Error is a classified engine error carrying the path it occurred on.
type Error struct {
	// Kind is the classified error kind.
	Kind ErrorKind

	// Path is the filename or catalog location involved, may be empty.
	Path string

	// Err is the underlying cause.
	Err error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err. Unclassified errors report KindIO.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}
