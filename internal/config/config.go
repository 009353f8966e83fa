package config

const (
	DefaultConfigPath = "config.json"
	DefaultDBPath     = "data/chat_history.db"
	DefaultLogDir     = "logs"
)

// Config holds application configuration
type Config struct {
	ConfigPath string // Live platform document, created from the bundled default on first run
	DBPath     string // SQLite file holding sessions and messages
	LogDir     string // Directory for the rotated log, trace and metric files
	Platform   string // Platform selected at startup; empty means first platform in the document
	Debug      bool
	Telemetry  bool // Export traces and metrics to files under LogDir
}

// Default returns the configuration used when no flags are given.
func Default() Config {
	return Config{
		ConfigPath: DefaultConfigPath,
		DBPath:     DefaultDBPath,
		LogDir:     DefaultLogDir,
	}
}
