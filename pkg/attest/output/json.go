package output

import (
	"bytes"
	"encoding/json"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// wireReport is the machine-readable report shape shared by the JSON and YAML
// formatters. Durations are rendered as strings rather than nanosecond counts.
type wireReport struct {
	Root            string           `json:"root" yaml:"root"`
	Algorithm       string           `json:"algorithm" yaml:"algorithm"`
	MigrationTarget string           `json:"migration_target,omitempty" yaml:"migration_target,omitempty"`
	Migrated        bool             `json:"migrated" yaml:"migrated"`
	ReportOnly      bool             `json:"report_only" yaml:"report_only"`
	Counters        types.Counters   `json:"counters" yaml:"counters"`
	MissingFiles    []string         `json:"missing_files,omitempty" yaml:"missing_files,omitempty"`
	DamagedFiles    []string         `json:"damaged_files,omitempty" yaml:"damaged_files,omitempty"`
	Errors          []wireFileError  `json:"errors,omitempty" yaml:"errors,omitempty"`
	FilesScanned    int64            `json:"files_scanned" yaml:"files_scanned"`
	BytesHashed     int64            `json:"bytes_hashed" yaml:"bytes_hashed"`
	BytesHuman      string           `json:"bytes_hashed_human" yaml:"bytes_hashed_human"`
	Elapsed         string           `json:"elapsed" yaml:"elapsed"`
	Clean           bool             `json:"clean" yaml:"clean"`
}

// wireFileError is one per-file error in machine-readable output.
type wireFileError struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
	Kind    string `json:"kind" yaml:"kind"`
}

// wireDuplicateGroup is one duplicate group in machine-readable output.
type wireDuplicateGroup struct {
	Digest string   `json:"digest" yaml:"digest"`
	Count  int      `json:"count" yaml:"count"`
	Files  []string `json:"files" yaml:"files"`
}

// buildWireReport converts a report to the machine-readable shape.
func buildWireReport(r *types.Report) wireReport {
	errs := make([]wireFileError, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = wireFileError{Path: e.Path, Message: e.Message, Kind: e.Kind.String()}
	}
	if len(errs) == 0 {
		errs = nil
	}

	return wireReport{
		Root:            r.Root,
		Algorithm:       r.Algorithm,
		MigrationTarget: r.MigrationTarget,
		Migrated:        r.Migrated,
		ReportOnly:      r.ReportOnly,
		Counters:        r.Counters,
		MissingFiles:    r.MissingFiles,
		DamagedFiles:    r.DamagedFiles,
		Errors:          errs,
		FilesScanned:    r.FilesScanned,
		BytesHashed:     r.BytesHashed,
		BytesHuman:      humanize.IBytes(uint64(r.BytesHashed)),
		Elapsed:         r.Elapsed.String(),
		Clean:           r.Clean(),
	}
}

// buildWireDuplicates converts duplicate groups to the machine-readable shape.
func buildWireDuplicates(groups []catalog.DuplicateGroup) []wireDuplicateGroup {
	out := make([]wireDuplicateGroup, len(groups))
	for i, g := range groups {
		out[i] = wireDuplicateGroup{Digest: g.Digest, Count: g.Count, Files: g.Files}
	}
	return out
}

// JSONFormatter formats output as a single indented JSON object.
type JSONFormatter struct{}

// FormatReport writes the formatted scan report to the buffer.
func (f *JSONFormatter) FormatReport(w *bytes.Buffer, r *types.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildWireReport(r))
}

// FormatDuplicates writes the formatted duplicate listing to the buffer.
func (f *JSONFormatter) FormatDuplicates(w *bytes.Buffer, groups []catalog.DuplicateGroup) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildWireDuplicates(groups))
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)
