package output

import (
	"bytes"

	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/types"
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as a YAML document. It shares the wire shape
// of the JSON formatter, so the two differ only in encoding.
type YAMLFormatter struct{}

// FormatReport writes the formatted scan report to the buffer.
func (f *YAMLFormatter) FormatReport(w *bytes.Buffer, r *types.Report) error {
	return yaml.NewEncoder(w).Encode(buildWireReport(r))
}

// FormatDuplicates writes the formatted duplicate listing to the buffer.
func (f *YAMLFormatter) FormatDuplicates(w *bytes.Buffer, groups []catalog.DuplicateGroup) error {
	return yaml.NewEncoder(w).Encode(buildWireDuplicates(groups))
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
