package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/attest/pkg/attest/config"
	"github.com/jamesainslie/attest/pkg/attest/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errAttention signals a pass that finished but needs operator attention
// (missing, likely-damaged, or excepted files). It maps to a non-zero exit
// without an extra error line.
var errAttention = errors.New("attention required")

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "attest [path]",
		Short: "Verify file integrity against a content catalog",
		Long: `Attest reconciles a directory tree against its content catalog.

Every regular file is digested and classified: confirmed good, legitimately
updated, new, renamed, missing, or likely damaged (content changed while the
modification time did not). The catalog records each file's digest and mtime
and is updated in a single transaction per pass.

Examples:
  attest                        # Reconcile the current directory
  attest ~/photos               # Reconcile a specific tree
  attest -n ~/photos            # Report only, commit nothing
  attest -a sha512 ~/photos     # Migrate the catalog to sha512
  attest dupes ~/photos         # List duplicate content
  attest config show            # Show configuration`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runCheck,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/attest/config.yaml)")
	rootCmd.PersistentFlags().String("catalog", "", "catalog location (relative paths resolve against the scanned root)")
	rootCmd.PersistentFlags().StringP("algorithm", "a", "", "digest algorithm (migrates an existing catalog)")
	rootCmd.PersistentFlags().BoolP("report-only", "n", false, "classify and report without committing catalog changes")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "assume yes at confirmation prompts")
	rootCmd.PersistentFlags().Bool("accept", false, "treat digest changes with unchanged mtimes as updates, not damage")
	rootCmd.PersistentFlags().StringSliceP("exclude", "e", nil, "exclude patterns (can be specified multiple times)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format (pretty, plain, json, yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "echo log records to the console")
	rootCmd.PersistentFlags().String("log-level", "", "log file level (debug, info, warn, error)")

	// Bind flags to viper
	_ = viper.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
	_ = viper.BindPFlag("algorithm", rootCmd.PersistentFlags().Lookup("algorithm"))
	_ = viper.BindPFlag("report_only", rootCmd.PersistentFlags().Lookup("report-only"))
	_ = viper.BindPFlag("yes", rootCmd.PersistentFlags().Lookup("yes"))
	_ = viper.BindPFlag("accept", rootCmd.PersistentFlags().Lookup("accept"))
	_ = viper.BindPFlag("exclude", rootCmd.PersistentFlags().Lookup("exclude"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		// Add config paths in order of precedence
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			viper.AddConfigPath(filepath.Join(xdgConfigHome, "attest"))
		}
		homeDir, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(homeDir, ".config", "attest"))
		}
	}

	// Set environment variable prefix and enable auto env binding
	viper.SetEnvPrefix("ATTEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Set defaults from config package
	viper.SetDefault("algorithm", "")
	viper.SetDefault("catalog", config.DefaultCatalogDir)
	viper.SetDefault("exclude", config.DefaultExclusions)
	viper.SetDefault("output", config.DefaultOutput)
	viper.SetDefault("log_level", config.DefaultLogLevel)
	viper.SetDefault("logging.path", "")
	viper.SetDefault("logging.max_size", config.DefaultLogMaxSize)

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()
}

// initLogging initializes the persistent log file, with console echo in
// verbose mode. Logging failures degrade to silence rather than aborting.
func initLogging() {
	maxBytes := logging.DefaultMaxBytes
	if s := viper.GetString("logging.max_size"); s != "" {
		if n, err := humanize.ParseBytes(s); err == nil {
			maxBytes = int64(n)
		}
	}

	consoleLevel := ""
	if viper.GetBool("verbose") && !viper.GetBool("quiet") {
		consoleLevel = "debug"
	}

	err := logging.Init(logging.Config{
		Level:        viper.GetString("log_level"),
		Path:         viper.GetString("logging.path"),
		MaxBytes:     maxBytes,
		ConsoleLevel: consoleLevel,
	})
	if err != nil && !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
