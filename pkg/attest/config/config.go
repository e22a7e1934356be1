package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoggingConfig configures the persistent log file.
type LoggingConfig struct {
	Level        string `mapstructure:"level" yaml:"level"`
	Path         string `mapstructure:"path" yaml:"path"`
	MaxSize      string `mapstructure:"max_size" yaml:"max_size"`
	ConsoleLevel string `mapstructure:"console_level" yaml:"console_level"`
}

// Config represents the application configuration.
type Config struct {
	// Algorithm is the digest algorithm for newly created catalogs.
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`

	// Catalog is the catalog location. A relative value is resolved
	// against the scanned root; an absolute value is used as-is.
	Catalog string `mapstructure:"catalog" yaml:"catalog"`

	// Exclude holds glob patterns skipped during scans.
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`

	// Output selects the default report format.
	Output string `mapstructure:"output" yaml:"output"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Algorithm: DefaultAlgorithm,
		Catalog:   DefaultCatalogDir,
		Exclude:   append([]string(nil), DefaultExclusions...),
		Output:    DefaultOutput,
		Logging: LoggingConfig{
			Level:        DefaultLogLevel,
			MaxSize:      DefaultLogMaxSize,
			ConsoleLevel: "",
		},
	}
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/attest/config.yaml
//   - $HOME/.config/attest/config.yaml
//
// Environment variables are prefixed with ATTEST_ (e.g., ATTEST_ALGORITHM).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "attest"))
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "attest"))

	v.SetEnvPrefix("ATTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("algorithm", def.Algorithm)
	v.SetDefault("catalog", def.Catalog)
	v.SetDefault("exclude", def.Exclude)
	v.SetDefault("output", def.Output)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.path", "") // Empty means use logging.DefaultLogPath
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.console_level", def.Logging.ConsoleLevel)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.HasPrefix(cfg.Catalog, "~") {
		cfg.Catalog = filepath.Join(homeDir, cfg.Catalog[1:])
	}
	return &cfg, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "attest"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "attest"), nil
}

// ConfigPath returns the path of the config file, whether or not it exists.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns the config path; writing over an existing file is refused.
func WriteDefault() (string, error) {
	if err := EnsureConfigDir(); err != nil {
		return "", err
	}
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("failed to render default config: %w", err)
	}
	header := "# attest configuration\n# Environment overrides use the ATTEST_ prefix, e.g. ATTEST_ALGORITHM.\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// StateDir returns $XDG_STATE_HOME/attest/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "attest")
}

// ResolveCatalogPath resolves the configured catalog location against root.
func ResolveCatalogPath(catalog, root string) string {
	if catalog == "" {
		catalog = DefaultCatalogDir
	}
	if filepath.IsAbs(catalog) {
		return filepath.Clean(catalog)
	}
	return filepath.Join(root, catalog)
}
