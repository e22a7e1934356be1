// Package scan implements the reconciliation engine: one Session per pass
// walks the tracked tree, classifies every file against the catalog, resolves
// renames by content address, gates missing-file deletion, and drives the
// digest algorithm migration protocol.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/digest"
	"github.com/jamesainslie/attest/pkg/attest/logging"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// ConfirmFunc answers a yes/no question to the operator. Implementations may
// prompt interactively, auto-accept, or always decline when not run
// interactively.
type ConfirmFunc func(prompt string) bool

// Options configures one reconciliation pass.
type Options struct {
	// Root is the directory tree to reconcile.
	Root string

	// Catalog is the opened catalog for Root.
	Catalog *catalog.Catalog

	// Algorithm requests a digest algorithm. When it differs from the
	// catalog's active algorithm an algorithm migration is attempted this
	// pass. Empty means "keep the active algorithm".
	Algorithm string

	// AcceptChanges treats digest changes with unchanged mtimes as
	// legitimate updates instead of likely damage.
	AcceptChanges bool

	// ReportOnly performs full classification and reporting but commits
	// no catalog changes: no inserts, updates, renames, deletions, or
	// migration.
	ReportOnly bool

	// Exclude holds glob patterns for paths skipped before
	// classification.
	Exclude []string

	// SkipPaths holds absolute paths excluded from the walk in addition
	// to the catalog's own storage (log files living under the root, for
	// example).
	SkipPaths []string

	// Confirm decides whether genuinely missing catalog entries are
	// deleted. Nil never deletes.
	Confirm ConfirmFunc
}

// Session owns the working sets and counters of exactly one scan. Its
// lifetime is one call to Run.
type Session struct {
	opts Options
	cat  *catalog.Catalog

	// active is the catalog's current algorithm; target is non-nil only
	// while an algorithm migration is in progress.
	active *digest.Algorithm
	target *digest.Algorithm

	// missing starts as a snapshot of the whole catalog; entries are
	// removed as files are reconfirmed. What remains at end of walk are
	// rename sources and deletion candidates.
	missing map[string]catalog.Entry

	// newFiles maps filename to digest for files unknown by filename.
	newFiles map[string]string

	// newDigests maps filename to digest under the target algorithm, for
	// every file touched during a migration pass.
	newDigests map[string]string

	counters types.Counters
	errs     []types.FileError
	damaged  []string

	filesScanned int64
	bytesHashed  int64

	// confirmWait accumulates operator think-time at prompts, which is
	// excluded from the reported elapsed duration.
	confirmWait time.Duration

	logger *logging.Logger
	id     string
}

// New builds a session for one pass, resolving the active and, when a
// different algorithm is requested, the migration target algorithm.
func New(opts Options) (*Session, error) {
	if opts.Catalog == nil {
		return nil, errors.New("scan: options require an open catalog")
	}

	activeName, err := opts.Catalog.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("reading catalog algorithm: %w", err)
	}
	active, err := digest.Get(activeName)
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts:       opts,
		cat:        opts.Catalog,
		active:     active,
		missing:    make(map[string]catalog.Entry),
		newFiles:   make(map[string]string),
		newDigests: make(map[string]string),
		id:         uuid.NewString(),
	}
	s.logger = logging.Get("scan").With("scan_id", s.id)

	if opts.Algorithm != "" && opts.Algorithm != activeName {
		target, err := digest.Select(opts.Algorithm)
		if err != nil {
			return nil, err
		}
		s.target = target
	}
	return s, nil
}

// Run executes the pass: snapshot, walk, classification, rename resolution,
// missing resolution, and migration commit or abort, all inside one enclosing
// catalog transaction. In report-only mode the transaction is discarded.
func (s *Session) Run(ctx context.Context) (*types.Report, error) {
	start := time.Now()
	s.logger.Info("scan started", "root", s.opts.Root, "algorithm", s.active.Name,
		"report_only", s.opts.ReportOnly)

	snapshot, err := s.cat.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshotting catalog: %w", err)
	}
	s.missing = snapshot

	if s.opts.ReportOnly {
		s.cat.BeginDryRun()
	} else {
		s.cat.Begin()
	}
	committed := false
	defer func() {
		if !committed {
			s.cat.Rollback()
		}
	}()

	if err := s.walk(ctx); err != nil {
		return nil, err
	}

	s.resolveRenames()
	s.resolveMissing()

	migrated, err := s.finishMigration()
	if err != nil {
		return nil, err
	}

	if s.opts.ReportOnly {
		s.cat.Rollback()
		committed = true // nothing left to roll back
	} else {
		if err := s.cat.Commit(); err != nil {
			return nil, err
		}
		committed = true
	}

	report := s.buildReport(start, migrated)
	s.logger.Info("scan finished",
		"good", report.Counters.Good,
		"updated", report.Counters.Updated,
		"new", report.Counters.New,
		"renamed", report.Counters.Renamed,
		"missing", report.Counters.Missing,
		"likely_damaged", report.Counters.LikelyDamaged,
		"exceptions", report.Counters.Exceptions,
		"elapsed", report.Elapsed)
	return report, nil
}

// classify runs the per-file state machine on one regular file. mtime is
// compared at UTC second precision.
func (s *Session) classify(name, path string, mtime time.Time) {
	// The file is present on disk whatever happens next, so it is no
	// longer a deletion candidate. This holds for unreadable files too,
	// which is why exceptions gate the deletion step instead.
	defer delete(s.missing, name)

	algos := []*digest.Algorithm{s.active}
	if s.target != nil {
		algos = append(algos, s.target)
	}

	sums, n, err := digest.File(path, algos...)
	if err != nil {
		s.recordException(name, err)
		return
	}
	s.filesScanned++
	s.bytesHashed += n

	dig := sums[0]
	if s.target != nil {
		s.newDigests[name] = sums[1]
	}

	mtime = mtime.UTC().Truncate(time.Second)
	entry, err := s.cat.Get(name)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.counters.New++
		s.newFiles[name] = dig
		if err := s.cat.Upsert(name, mtime, dig); err != nil {
			s.recordException(name, err)
		}

	case err != nil:
		s.recordException(name, err)

	case entry.Digest == dig:
		s.counters.Good++
		if entry.Mtime != mtime.Unix() {
			// Content unchanged, timestamp metadata moved. Not an
			// update.
			if err := s.cat.Touch(name, mtime); err != nil {
				s.recordException(name, err)
			}
		}

	case entry.Mtime == mtime.Unix() && !s.opts.AcceptChanges:
		// Digest changed while the mtime did not: no legitimate edit
		// happened, so this looks like corruption. The catalog keeps
		// the last known-good digest.
		s.counters.LikelyDamaged++
		s.damaged = append(s.damaged, name)
		s.logger.Error("likely damaged", "file", name,
			"stored_digest", entry.Digest, "observed_digest", dig)

	default:
		s.counters.Updated++
		if err := s.cat.Upsert(name, mtime, dig); err != nil {
			s.recordException(name, err)
		}
	}
}

// resolveRenames deletes every catalog entry still in the missing set whose
// digest matches some file first seen this pass. Content-addressed matching
// cannot distinguish a true rename from a new file colliding with a known
// duplicate's content; entries are visited in lexicographic order so ties
// resolve deterministically.
func (s *Session) resolveRenames() {
	if len(s.missing) == 0 || len(s.newFiles) == 0 {
		return
	}

	arrived := make(map[string]bool, len(s.newFiles))
	for _, dig := range s.newFiles {
		arrived[dig] = true
	}

	for _, name := range sortedKeys(s.missing) {
		if !arrived[s.missing[name].Digest] {
			continue
		}
		if err := s.cat.Delete(name); err != nil {
			s.recordException(name, err)
			continue
		}
		s.counters.Renamed++
		delete(s.missing, name)
		s.logger.Info("rename resolved", "old", name)
	}
}

// resolveMissing reports the entries still missing after rename resolution
// and, when the pass had no exceptions and the operator confirms, deletes
// them from the catalog. An exception means the scan may be incomplete:
// deleting entries for files that merely failed to read would destroy
// integrity history, so the whole step is skipped.
func (s *Session) resolveMissing() {
	names := sortedKeys(s.missing)
	s.counters.Missing = len(names)
	if len(names) == 0 {
		return
	}

	for _, name := range names {
		s.logger.Warn("missing", "file", name, "digest", s.missing[name].Digest)
	}

	if s.opts.ReportOnly {
		return
	}
	if s.counters.Exceptions > 0 {
		s.logger.Warn("skipping missing-entry deletion: scan had exceptions",
			"missing", len(names), "exceptions", s.counters.Exceptions)
		return
	}
	if s.opts.Confirm == nil {
		return
	}

	prompt := fmt.Sprintf("Delete %d missing entr%s from the catalog?",
		len(names), pluralIES(len(names)))
	confirmStart := time.Now()
	accepted := s.opts.Confirm(prompt)
	s.confirmWait += time.Since(confirmStart)

	if !accepted {
		s.logger.Info("missing-entry deletion declined", "missing", len(names))
		return
	}
	for _, name := range names {
		if err := s.cat.Delete(name); err != nil {
			s.recordException(name, err)
			return
		}
		s.logger.Info("deleted missing entry", "file", name)
	}
}

// recordException counts and logs a recovered file-level error.
func (s *Session) recordException(name string, err error) {
	s.counters.Exceptions++
	s.errs = append(s.errs, types.FileError{
		Path:    name,
		Message: err.Error(),
		Kind:    types.KindOf(err),
	})
	s.logger.Error("exception", "file", name, "kind", types.KindOf(err), "err", err)
}

// buildReport assembles the end-of-run report. Elapsed excludes operator
// think-time at confirmation prompts.
func (s *Session) buildReport(start time.Time, migrated bool) *types.Report {
	algorithm := s.active.Name
	target := ""
	if s.target != nil {
		target = s.target.Name
		if migrated {
			algorithm = s.target.Name
		}
	}

	sort.Strings(s.damaged)
	return &types.Report{
		Root:            s.opts.Root,
		Algorithm:       algorithm,
		MigrationTarget: target,
		Migrated:        migrated,
		ReportOnly:      s.opts.ReportOnly,
		Counters:        s.counters,
		MissingFiles:    sortedKeys(s.missing),
		DamagedFiles:    s.damaged,
		Errors:          s.errs,
		FilesScanned:    s.filesScanned,
		BytesHashed:     s.bytesHashed,
		Elapsed:         time.Since(start) - s.confirmWait,
	}
}

func sortedKeys(m map[string]catalog.Entry) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func pluralIES(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
