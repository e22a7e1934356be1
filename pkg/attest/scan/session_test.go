package scan_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/digest"
	"github.com/jamesainslie/attest/pkg/attest/scan"
	"github.com/jamesainslie/attest/pkg/attest/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is one tracked tree plus its catalog, living in separate temp dirs
// so catalog storage never shadows tree content unless a test asks for it.
type fixture struct {
	root string
	cat  *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Open(t.TempDir(), "sha256")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return &fixture{root: t.TempDir(), cat: cat}
}

// write creates name under the fixture root with the given content and a
// stable second-precision mtime.
func (f *fixture) write(t *testing.T, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func (f *fixture) scan(t *testing.T, opts scan.Options) *types.Report {
	t.Helper()
	opts.Root = f.root
	opts.Catalog = f.cat
	s, err := scan.New(opts)
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	return report
}

func baseTime() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func sumOf(t *testing.T, content, algoName string) string {
	t.Helper()
	algo, err := digest.Get(algoName)
	require.NoError(t, err)
	sums, _, err := digest.Sum(bytes.NewReader([]byte(content)), algo)
	require.NoError(t, err)
	return sums[0]
}

func TestFirstScanThenIdempotence(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha", baseTime())
	f.write(t, "sub/b.txt", "beta", baseTime())
	f.write(t, "sub/deep/c.txt", "gamma", baseTime())

	first := f.scan(t, scan.Options{})
	assert.Equal(t, 3, first.Counters.New)
	assert.Equal(t, 0, first.Counters.Good)
	assert.True(t, first.Clean())

	// No filesystem changes: the second pass confirms everything.
	second := f.scan(t, scan.Options{})
	assert.Equal(t, 3, second.Counters.Good)
	assert.Equal(t, 0, second.Counters.New)
	assert.Equal(t, 0, second.Counters.Updated)
	assert.Equal(t, 0, second.Counters.Renamed)
	assert.Equal(t, 0, second.Counters.Missing)
	assert.True(t, second.Clean())

	entry, err := f.cat.Get("sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "beta", "sha256"), entry.Digest)
}

func TestDamageDetection(t *testing.T) {
	f := newFixture(t)
	mtime := baseTime()
	path := f.write(t, "archive.bin", "pristine content", mtime)
	f.scan(t, scan.Options{})

	// Content changes while the mtime does not: corruption, not an edit.
	require.NoError(t, os.WriteFile(path, []byte("rotted content!!"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.LikelyDamaged)
	assert.Equal(t, 0, report.Counters.Updated)
	assert.Equal(t, []string{"archive.bin"}, report.DamagedFiles)
	assert.False(t, report.Clean())

	// The catalog keeps the last known-good digest.
	entry, err := f.cat.Get("archive.bin")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "pristine content", "sha256"), entry.Digest)
}

func TestAcceptChangesOverridesDamage(t *testing.T) {
	f := newFixture(t)
	mtime := baseTime()
	path := f.write(t, "note.txt", "before", mtime)
	f.scan(t, scan.Options{})

	require.NoError(t, os.WriteFile(path, []byte("after!"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	report := f.scan(t, scan.Options{AcceptChanges: true})
	assert.Equal(t, 0, report.Counters.LikelyDamaged)
	assert.Equal(t, 1, report.Counters.Updated)

	entry, err := f.cat.Get("note.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "after!", "sha256"), entry.Digest)
}

func TestUpdateDetection(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.md", "draft", baseTime())
	f.scan(t, scan.Options{})

	// Content and mtime both move: a legitimate edit.
	edited := baseTime().Add(45 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("final"), 0o644))
	require.NoError(t, os.Chtimes(path, edited, edited))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.Updated)
	assert.Equal(t, 0, report.Counters.LikelyDamaged)

	entry, err := f.cat.Get("doc.md")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "final", "sha256"), entry.Digest)
	assert.Equal(t, edited.Unix(), entry.Mtime)
}

func TestMtimeOnlyChangeStaysGood(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "touched.txt", "same bytes", baseTime())
	f.scan(t, scan.Options{})

	touched := baseTime().Add(10 * time.Minute)
	require.NoError(t, os.Chtimes(path, touched, touched))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.Good)
	assert.Equal(t, 0, report.Counters.Updated)

	// The stored mtime follows the metadata change.
	entry, err := f.cat.Get("touched.txt")
	require.NoError(t, err)
	assert.Equal(t, touched.Unix(), entry.Mtime)
	assert.Equal(t, sumOf(t, "same bytes", "sha256"), entry.Digest)
}

func TestRenameResolution(t *testing.T) {
	f := newFixture(t)
	old := f.write(t, "old-name.dat", "stable bytes", baseTime())
	f.scan(t, scan.Options{})

	require.NoError(t, os.Rename(old, filepath.Join(f.root, "new-name.dat")))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.Renamed)
	assert.Equal(t, 0, report.Counters.Missing)
	assert.Equal(t, 1, report.Counters.New)
	assert.True(t, report.Clean())

	_, err := f.cat.Get("old-name.dat")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	entry, err := f.cat.Get("new-name.dat")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "stable bytes", "sha256"), entry.Digest)
}

func TestRenameWithDuplicateContentDeletesAllMatchingMissing(t *testing.T) {
	f := newFixture(t)
	a := f.write(t, "copy-a.dat", "shared bytes", baseTime())
	b := f.write(t, "copy-b.dat", "shared bytes", baseTime())
	f.scan(t, scan.Options{})

	// Both known copies vanish, one file with the same content appears.
	// Content addressing cannot tell which one was "the rename", so every
	// missing entry holding the arrived digest is resolved as one.
	require.NoError(t, os.Rename(a, filepath.Join(f.root, "survivor.dat")))
	require.NoError(t, os.Remove(b))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 2, report.Counters.Renamed)
	assert.Equal(t, 0, report.Counters.Missing)
	assert.Equal(t, 1, report.Counters.New)

	names, err := f.cat.EntryNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"survivor.dat"}, names)
}

func TestMissingConfirmedDeletion(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doomed.txt", "going away", baseTime())
	f.write(t, "kept.txt", "staying", baseTime())
	f.scan(t, scan.Options{})

	require.NoError(t, os.Remove(path))

	var prompted string
	report := f.scan(t, scan.Options{
		Confirm: func(prompt string) bool { prompted = prompt; return true },
	})
	assert.Equal(t, 1, report.Counters.Missing)
	assert.Equal(t, []string{"doomed.txt"}, report.MissingFiles)
	assert.NotEmpty(t, prompted)

	_, err := f.cat.Get("doomed.txt")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.cat.Get("kept.txt")
	assert.NoError(t, err)
}

func TestMissingDeclinedDeletion(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "absent.txt", "bytes", baseTime())
	f.scan(t, scan.Options{})
	require.NoError(t, os.Remove(path))

	report := f.scan(t, scan.Options{
		Confirm: func(string) bool { return false },
	})
	assert.Equal(t, 1, report.Counters.Missing)

	// Declined: the entry survives for the next pass.
	_, err := f.cat.Get("absent.txt")
	assert.NoError(t, err)
}

func TestExceptionsGateMissingDeletion(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("cannot create unreadable files when running as root")
	}

	f := newFixture(t)
	gone := f.write(t, "gone.txt", "bytes", baseTime())
	locked := f.write(t, "locked.txt", "secret", baseTime())
	f.scan(t, scan.Options{})

	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	confirmCalled := false
	report := f.scan(t, scan.Options{
		Confirm: func(string) bool { confirmCalled = true; return true },
	})
	assert.Equal(t, 1, report.Counters.Exceptions)
	assert.Equal(t, 1, report.Counters.Missing)
	assert.False(t, confirmCalled, "deletion must be skipped entirely when the scan had exceptions")
	assert.False(t, report.Clean())

	// The unreadable file is not a deletion candidate either: it exists.
	_, err := f.cat.Get("locked.txt")
	assert.NoError(t, err)
	_, err = f.cat.Get("gone.txt")
	assert.NoError(t, err)
}

func TestReportOnlyCommitsNothing(t *testing.T) {
	f := newFixture(t)
	mtime := baseTime()
	known := f.write(t, "known.txt", "known bytes", mtime)
	f.scan(t, scan.Options{})

	// Stage a new file and an update.
	f.write(t, "fresh.txt", "fresh bytes", mtime)
	edited := mtime.Add(30 * time.Second)
	require.NoError(t, os.WriteFile(known, []byte("edited bytes"), 0o644))
	require.NoError(t, os.Chtimes(known, edited, edited))

	report := f.scan(t, scan.Options{
		ReportOnly: true,
		Confirm:    func(string) bool { t.Fatal("report-only must not prompt"); return true },
	})
	assert.True(t, report.ReportOnly)
	assert.Equal(t, 1, report.Counters.New)
	assert.Equal(t, 1, report.Counters.Updated)

	// Nothing was committed.
	_, err := f.cat.Get("fresh.txt")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	entry, err := f.cat.Get("known.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "known bytes", "sha256"), entry.Digest)
	assert.Equal(t, mtime.Unix(), entry.Mtime)
}

func TestMigrationCommitsOnCleanPass(t *testing.T) {
	f := newFixture(t)
	f.write(t, "one.txt", "first", baseTime())
	f.write(t, "two.txt", "second", baseTime())
	f.scan(t, scan.Options{})

	report := f.scan(t, scan.Options{Algorithm: "sha512"})
	assert.True(t, report.Migrated)
	assert.Equal(t, "sha512", report.Algorithm)
	assert.Equal(t, "sha512", report.MigrationTarget)
	assert.Equal(t, 2, report.Counters.Good)

	algo, err := f.cat.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, "sha512", algo)

	entry, err := f.cat.Get("one.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "first", "sha512"), entry.Digest)
	entry, err = f.cat.Get("two.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "second", "sha512"), entry.Digest)

	// The pass after a migration verifies under the new algorithm.
	after := f.scan(t, scan.Options{})
	assert.Equal(t, 2, after.Counters.Good)
}

func TestMigrationDeferredWhenDamaged(t *testing.T) {
	f := newFixture(t)
	mtime := baseTime()
	good := f.write(t, "good.txt", "fine", mtime)
	_ = good
	bad := f.write(t, "bad.txt", "original", mtime)
	f.scan(t, scan.Options{})

	require.NoError(t, os.WriteFile(bad, []byte("corrupt!"), 0o644))
	require.NoError(t, os.Chtimes(bad, mtime, mtime))

	report := f.scan(t, scan.Options{Algorithm: "sha512"})
	assert.False(t, report.Migrated)
	assert.Equal(t, "sha256", report.Algorithm)
	assert.Equal(t, 1, report.Counters.LikelyDamaged)

	// All digests and the metadata stay under the old algorithm.
	algo, err := f.cat.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, "sha256", algo)

	entry, err := f.cat.Get("good.txt")
	require.NoError(t, err)
	assert.Equal(t, sumOf(t, "fine", "sha256"), entry.Digest)
}

func TestMigrationDeferredWhenMissing(t *testing.T) {
	f := newFixture(t)
	keep := f.write(t, "keep.txt", "kept", baseTime())
	_ = keep
	lost := f.write(t, "lost.txt", "lost", baseTime())
	f.scan(t, scan.Options{})
	require.NoError(t, os.Remove(lost))

	report := f.scan(t, scan.Options{
		Algorithm: "sha512",
		Confirm:   func(string) bool { return false },
	})
	assert.False(t, report.Migrated)
	assert.Equal(t, 1, report.Counters.Missing)

	algo, err := f.cat.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, "sha256", algo)
}

func TestMigrationToLegacyAlgorithmRejected(t *testing.T) {
	f := newFixture(t)
	_, err := scan.New(scan.Options{Root: f.root, Catalog: f.cat, Algorithm: "md5"})
	require.Error(t, err)
	assert.Equal(t, types.KindAlgorithmUnsupported, types.KindOf(err))
}

func TestCatalogStorageInsideRootIsSkipped(t *testing.T) {
	root := t.TempDir()
	cat, err := catalog.Open(filepath.Join(root, ".attest"), "sha256")
	require.NoError(t, err)
	defer cat.Close()
	f := &fixture{root: root, cat: cat}

	f.write(t, "real.txt", "real content", baseTime())

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.New)

	second := f.scan(t, scan.Options{})
	assert.Equal(t, 1, second.Counters.Good)
	assert.Equal(t, 0, second.Counters.New)
}

func TestSymlinksAreSkipped(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "target.txt", "bytes", baseTime())
	require.NoError(t, os.Symlink(target, filepath.Join(f.root, "link.txt")))

	report := f.scan(t, scan.Options{})
	assert.Equal(t, 1, report.Counters.New)
	_, err := f.cat.Get("link.txt")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestExcludePatterns(t *testing.T) {
	f := newFixture(t)
	f.write(t, "keep.txt", "keep", baseTime())
	f.write(t, "skip.tmp", "skip", baseTime())

	report := f.scan(t, scan.Options{Exclude: []string{"*.tmp"}})
	assert.Equal(t, 1, report.Counters.New)
	_, err := f.cat.Get("skip.tmp")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestExcludedDirectoryPrunesSubtree(t *testing.T) {
	f := newFixture(t)
	f.write(t, "keep.txt", "kept", baseTime())
	f.write(t, "cache/inner.txt", "cached", baseTime())
	f.write(t, "cache/deep/nested.txt", "nested", baseTime())

	report := f.scan(t, scan.Options{Exclude: []string{"cache"}})
	assert.Equal(t, 1, report.Counters.New)
	assert.Equal(t, int64(1), report.FilesScanned)

	_, err := f.cat.Get("cache/inner.txt")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = f.cat.Get("cache/deep/nested.txt")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUnstattableFileIsExceptionNotMissing(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("cannot create unstattable files when running as root")
	}

	f := newFixture(t)
	f.write(t, "sub/blocked.txt", "bytes", baseTime())
	f.scan(t, scan.Options{})

	// Readable but not searchable: the directory lists its entries, the
	// entries themselves cannot be statted.
	sub := filepath.Join(f.root, "sub")
	require.NoError(t, os.Chmod(sub, 0o644))
	t.Cleanup(func() { _ = os.Chmod(sub, 0o755) })

	report := f.scan(t, scan.Options{
		Confirm: func(string) bool { t.Fatal("deletion must not be offered"); return true },
	})
	assert.NotZero(t, report.Counters.Exceptions)
	assert.Equal(t, 0, report.Counters.Missing, "a present but unstattable file is not missing")

	_, err := f.cat.Get("sub/blocked.txt")
	assert.NoError(t, err)
}

func TestDuplicateListingAfterScan(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a/first.bin", "twin content", baseTime())
	f.write(t, "b/second.bin", "twin content", baseTime())
	f.write(t, "single.bin", "unique content", baseTime())
	f.scan(t, scan.Options{})

	groups, err := f.cat.Duplicates()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, sumOf(t, "twin content", "sha256"), groups[0].Digest)
	assert.Equal(t, []string{"a/first.bin", "b/second.bin"}, groups[0].Files)
}
