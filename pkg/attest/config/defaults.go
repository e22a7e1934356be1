// Package config provides configuration management for attest.
package config

// Default configuration values for attest.
const (
	// DefaultAlgorithm is the digest algorithm used for new catalogs when
	// none is configured.
	DefaultAlgorithm = "sha256"

	// DefaultCatalogDir is the catalog directory name, relative to the
	// scanned root, when no absolute catalog path is configured.
	DefaultCatalogDir = ".attest"

	// DefaultOutput is the report format used when none is requested.
	DefaultOutput = "pretty"

	// DefaultLogLevel is the persistent log file level.
	DefaultLogLevel = "info"

	// DefaultLogMaxSize is the rotation threshold for the log file.
	DefaultLogMaxSize = "10MB"
)

// DefaultExclusions contains glob patterns excluded from scanning by default.
var DefaultExclusions = []string{
	".DS_Store",
	"Thumbs.db",
}
