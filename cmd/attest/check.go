package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/config"
	"github.com/jamesainslie/attest/pkg/attest/digest"
	"github.com/jamesainslie/attest/pkg/attest/logging"
	"github.com/jamesainslie/attest/pkg/attest/output"
	"github.com/jamesainslie/attest/pkg/attest/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCheck is the default command: one reconciliation pass over the tree.
func runCheck(_ *cobra.Command, args []string) error {
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

	// Handle interrupt signal: a cancelled pass rolls its transaction back.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		printInfo("\nInterrupted, stopping scan...")
		cancel()
	}()

	session, err := scan.New(scan.Options{
		Root:          root,
		Catalog:       cat,
		Algorithm:     viper.GetString("algorithm"),
		AcceptChanges: viper.GetBool("accept"),
		ReportOnly:    viper.GetBool("report_only"),
		Exclude:       viper.GetStringSlice("exclude"),
		SkipPaths:     []string{activeLogPath()},
		Confirm:       buildConfirm(),
	})
	if err != nil {
		return err
	}

	report, err := session.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printInfo("Scan cancelled, no changes committed")
			return nil
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	var buf bytes.Buffer
	if err := formatter.FormatReport(&buf, report); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())

	if !report.Clean() {
		return errAttention
	}
	return nil
}

// resolveRoot turns the optional positional argument into an absolute,
// verified directory path.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	if strings.HasPrefix(root, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand path: %w", err)
		}
		root = filepath.Join(homeDir, root[1:])
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", absPath)
		}
		return "", fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", absPath)
	}
	return absPath, nil
}

// openCatalog opens the catalog for root at the configured location.
func openCatalog(root string) (*catalog.Catalog, error) {
	path := config.ResolveCatalogPath(viper.GetString("catalog"), root)

	defaultAlgo := viper.GetString("algorithm")
	if defaultAlgo == "" {
		defaultAlgo = digest.Default
	}

	cat, err := catalog.Open(path, defaultAlgo)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return cat, nil
}

// getFormatter resolves the requested output formatter.
func getFormatter() (output.Formatter, error) {
	name := viper.GetString("output")
	if name == "" {
		name = config.DefaultOutput
	}
	formatter, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}
	return formatter, nil
}

// activeLogPath returns the log file location so the walk never digests the
// scan's own log when it lives under the scanned root.
func activeLogPath() string {
	if path := viper.GetString("logging.path"); path != "" {
		return path
	}
	return logging.DefaultLogPath()
}

// buildConfirm returns the confirmation callback for missing-entry deletion:
// auto-accept with --yes, an interactive stdin prompt otherwise. Quiet mode
// without --yes never deletes.
func buildConfirm() scan.ConfirmFunc {
	if viper.GetBool("yes") {
		return func(string) bool { return true }
	}
	if getQuiet() {
		return nil
	}
	return func(prompt string) bool {
		fmt.Printf("%s [y/N] ", prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes"
	}
}
