package output

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// PlainFormatter formats output as unstyled text, one fact per line. It is
// suitable for piping into other tools or for terminals without color support.
type PlainFormatter struct{}

// FormatReport writes the formatted scan report to the buffer.
func (f *PlainFormatter) FormatReport(w *bytes.Buffer, r *types.Report) error {
	fmt.Fprintf(w, "root: %s\n", r.Root)
	fmt.Fprintf(w, "algorithm: %s\n", r.Algorithm)
	if r.MigrationTarget != "" {
		fmt.Fprintf(w, "migration: %s migrated=%t\n", r.MigrationTarget, r.Migrated)
	}
	if r.ReportOnly {
		fmt.Fprintf(w, "report-only: true\n")
	}

	c := r.Counters
	fmt.Fprintf(w, "good: %d\n", c.Good)
	fmt.Fprintf(w, "updated: %d\n", c.Updated)
	fmt.Fprintf(w, "new: %d\n", c.New)
	fmt.Fprintf(w, "renamed: %d\n", c.Renamed)
	fmt.Fprintf(w, "missing: %d\n", c.Missing)
	fmt.Fprintf(w, "likely-damaged: %d\n", c.LikelyDamaged)
	fmt.Fprintf(w, "exceptions: %d\n", c.Exceptions)

	for _, file := range r.DamagedFiles {
		fmt.Fprintf(w, "damaged: %s\n", file)
	}
	for _, file := range r.MissingFiles {
		fmt.Fprintf(w, "missing-file: %s\n", file)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "error: %s: %s: %s\n", e.Kind, e.Path, e.Message)
	}

	fmt.Fprintf(w, "files-scanned: %d\n", r.FilesScanned)
	fmt.Fprintf(w, "bytes-hashed: %d (%s)\n", r.BytesHashed, humanize.IBytes(uint64(r.BytesHashed)))
	fmt.Fprintf(w, "elapsed: %s\n", formatElapsed(r.Elapsed))
	fmt.Fprintf(w, "clean: %t\n", r.Clean())
	return nil
}

// FormatDuplicates writes the formatted duplicate listing to the buffer.
func (f *PlainFormatter) FormatDuplicates(w *bytes.Buffer, groups []catalog.DuplicateGroup) error {
	for _, g := range groups {
		for _, file := range g.Files {
			fmt.Fprintf(w, "%s  %s\n", g.Digest, file)
		}
	}
	fmt.Fprintf(w, "groups: %d\n", len(groups))
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
