package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// PrettyFormatter formats output with colors and styling using lipgloss.
// It produces a visually appealing output suitable for terminal display.
type PrettyFormatter struct{}

// FormatReport writes the formatted scan report to the buffer.
func (f *PrettyFormatter) FormatReport(w *bytes.Buffer, r *types.Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatCounters(r))

	if len(r.DamagedFiles) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatFileList("Likely damaged:", r.DamagedFiles, ErrorStyle))
	}
	if len(r.MissingFiles) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatFileList("Missing:", r.MissingFiles, WarningStyle))
	}
	if len(r.Errors) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatErrors(r.Errors))
	}

	w.WriteString(f.formatFooter(r))
	w.WriteString("\n")
	return nil
}

// formatHeader builds the header box with run metadata.
func (f *PrettyFormatter) formatHeader(r *types.Report) string {
	var lines []string

	rootLabel := LabelStyle.Render("Root:")
	rootValue := ValueStyle.Render(r.Root)
	lines = append(lines, fmt.Sprintf("%s %s", rootLabel, rootValue))

	algoLabel := LabelStyle.Render("Algorithm:")
	algoValue := ValueStyle.Render(r.Algorithm)
	info := fmt.Sprintf("%s %s", algoLabel, algoValue)

	if r.MigrationTarget != "" {
		if r.Migrated {
			info += "  " + SuccessStyle.Render("migrated to "+r.MigrationTarget)
		} else {
			info += "  " + WarningStyle.Render("migration to "+r.MigrationTarget+" deferred")
		}
	}
	if r.ReportOnly {
		info += "  " + MutedStyle.Render("(report only, no changes committed)")
	}
	lines = append(lines, info)

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

// formatCounters renders one line per classification counter, coloring the
// ones that demand attention.
func (f *PrettyFormatter) formatCounters(r *types.Report) string {
	var sb strings.Builder
	c := r.Counters

	row := func(label string, n int, style func(int) string) {
		sb.WriteString(fmt.Sprintf("  %s %s\n",
			LabelStyle.Render(fmt.Sprintf("%-16s", label)), style(n)))
	}
	plain := func(n int) string { return ValueStyle.Render(fmt.Sprintf("%d", n)) }
	warnIfAny := func(n int) string {
		if n > 0 {
			return WarningStyle.Render(fmt.Sprintf("%d", n))
		}
		return plain(n)
	}
	dangerIfAny := func(n int) string {
		if n > 0 {
			return ErrorStyle.Render(fmt.Sprintf("%d", n))
		}
		return plain(n)
	}

	row("Good", c.Good, plain)
	row("Updated", c.Updated, plain)
	row("New", c.New, plain)
	row("Renamed", c.Renamed, plain)
	row("Missing", c.Missing, warnIfAny)
	row("Likely damaged", c.LikelyDamaged, dangerIfAny)
	row("Exceptions", c.Exceptions, dangerIfAny)
	return sb.String()
}

// formatFileList renders a titled, indented file list.
func (f *PrettyFormatter) formatFileList(title string, files []string, style lipgloss.Style) string {
	var sb strings.Builder
	sb.WriteString(style.Render(title))
	sb.WriteString("\n")
	for _, file := range files {
		sb.WriteString("  " + ValueStyle.Render(file) + "\n")
	}
	return sb.String()
}

// formatErrors renders the per-file error block.
func (f *PrettyFormatter) formatErrors(errs []types.FileError) string {
	var sb strings.Builder
	sb.WriteString(ErrorStyle.Render("Exceptions:"))
	sb.WriteString("\n")
	for _, e := range errs {
		sb.WriteString(fmt.Sprintf("  %s %s %s\n",
			MutedStyle.Render("["+e.Kind.String()+"]"),
			ValueStyle.Render(e.Path),
			MutedStyle.Render(e.Message)))
	}
	return sb.String()
}

// formatFooter builds the footer box with throughput summary.
func (f *PrettyFormatter) formatFooter(r *types.Report) string {
	var parts []string

	filesLabel := LabelStyle.Render("Files:")
	parts = append(parts, fmt.Sprintf("%s %s", filesLabel,
		ValueStyle.Render(fmt.Sprintf("%d", r.FilesScanned))))

	hashedLabel := LabelStyle.Render("Hashed:")
	parts = append(parts, fmt.Sprintf("%s %s", hashedLabel,
		ValueStyle.Render(humanize.IBytes(uint64(r.BytesHashed)))))

	elapsedLabel := LabelStyle.Render("Elapsed:")
	parts = append(parts, fmt.Sprintf("%s %s", elapsedLabel,
		ValueStyle.Render(formatElapsed(r.Elapsed))))

	if r.Clean() {
		parts = append(parts, SuccessStyle.Render("clean"))
	} else {
		parts = append(parts, ErrorStyle.Render("attention required"))
	}

	return FooterBox.Render(strings.Join(parts, "  "))
}

// FormatDuplicates writes the formatted duplicate listing to the buffer.
func (f *PrettyFormatter) FormatDuplicates(w *bytes.Buffer, groups []catalog.DuplicateGroup) error {
	if len(groups) == 0 {
		w.WriteString(MutedStyle.Render("No duplicate content in the catalog") + "\n")
		return nil
	}

	for _, g := range groups {
		w.WriteString(fmt.Sprintf("%s %s\n",
			DigestStyle.Render(g.Digest),
			MutedStyle.Render(fmt.Sprintf("(%d files)", g.Count))))
		for _, file := range g.Files {
			w.WriteString("  " + ValueStyle.Render(file) + "\n")
		}
	}
	w.WriteString(FooterBox.Render(LabelStyle.Render("Groups:") + " " +
		ValueStyle.Render(fmt.Sprintf("%d", len(groups)))))
	w.WriteString("\n")
	return nil
}

// formatElapsed formats a duration at millisecond resolution below a minute
// and minute/second resolution above.
func formatElapsed(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
