package main

import (
	"fmt"
	"os"

	"github.com/jamesainslie/attest/pkg/attest/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage attest configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/attest/config.yaml (if set)
  2. ~/.config/attest/config.yaml

Environment variables can override config file settings using the ATTEST_ prefix:
  ATTEST_ALGORITHM=sha512
  ATTEST_CATALOG=/var/lib/attest/media
  ATTEST_LOGGING_LEVEL=debug`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		printError("Failed to load configuration: %v", err)
		cfg = config.Default()
	}

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Printf("Config file: %s\n\n", configFile)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("algorithm:             %s\n", cfg.Algorithm)
	fmt.Printf("catalog:               %s\n", cfg.Catalog)
	fmt.Printf("exclude:               %v\n", cfg.Exclude)
	fmt.Printf("output:                %s\n", cfg.Output)
	fmt.Printf("logging.level:         %s\n", cfg.Logging.Level)
	fmt.Printf("logging.path:          %s\n", cfg.Logging.Path)
	fmt.Printf("logging.max_size:      %s\n", cfg.Logging.MaxSize)
	fmt.Printf("logging.console_level: %s\n", cfg.Logging.ConsoleLevel)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	envVars := []string{
		"ATTEST_ALGORITHM",
		"ATTEST_CATALOG",
		"ATTEST_EXCLUDE",
		"ATTEST_OUTPUT",
		"ATTEST_LOGGING_LEVEL",
		"ATTEST_LOGGING_PATH",
		"ATTEST_LOGGING_MAX_SIZE",
	}

	anyOverrides := false
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			fmt.Printf("%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	existing, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if _, err := os.Stat(existing); err == nil {
		printInfo("Config file already exists: %s", existing)
		return nil
	}

	path, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	printInfo("Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	fmt.Println(path)
	return nil
}
