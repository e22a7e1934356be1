package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
)

var dupesCmd = &cobra.Command{
	Use:   "dupes [path]",
	Short: "List duplicate content in the catalog",
	Long: `List catalog entries that share a content digest.

The listing reflects the catalog, not the filesystem: run a reconciliation
pass first to pick up recent changes. Groups are ordered by digest, files
within a group by name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDupes,
}

func init() {
	rootCmd.AddCommand(dupesCmd)
}

// runDupes queries the catalog's duplicate groups and prints them.
func runDupes(_ *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}

	formatter, err := getFormatter()
	if err != nil {
		return err
	}

	cat, err := openCatalog(root)
	if err != nil {
		return err
	}
	defer cat.Close()

	groups, err := cat.Duplicates()
	if err != nil {
		return fmt.Errorf("listing duplicates: %w", err)
	}

	var buf bytes.Buffer
	if err := formatter.FormatDuplicates(&buf, groups); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}
