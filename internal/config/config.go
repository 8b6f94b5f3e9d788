package config

import "time"

// Config represents the application configuration
type Config struct {
	Archive   ArchiveConfig   `toml:"archive"`
	Retriever RetrieverConfig `toml:"retriever"`
	Cache     CacheConfig     `toml:"cache"`
	Output    OutputConfig    `toml:"output"`
	Log       LogConfig       `toml:"log"`
}

// ArchiveConfig contains settings for talking to the mailing-list archive
type ArchiveConfig struct {
	UserAgent         string   `toml:"user_agent" validate:"required"`
	Timeout           Duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute" validate:"gte=1,lte=600"`
	PageRetries       int      `toml:"page_retries" validate:"gte=0,lte=20"`
	RetryDelay        Duration `toml:"retry_delay"`
	MaxPages          int      `toml:"max_pages" validate:"gte=0"` // 0 = unlimited
}

// RetrieverConfig contains settings for the external retrieval command
type RetrieverConfig struct {
	Command       string   `toml:"command" validate:"required"`
	Args          []string `toml:"args" validate:"min=1"`
	Retries       int      `toml:"retries" validate:"gte=0,lte=20"`
	RetryInterval Duration `toml:"retry_interval"`
	Timeout       Duration `toml:"timeout"`
}

// CacheConfig contains cache file settings
type CacheConfig struct {
	Dir string `toml:"dir"` // empty = current directory
}

// OutputConfig contains settings for retrieved mailbox files
type OutputConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
}

// Duration is a time.Duration that reads from TOML strings like "10s"
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			UserAgent:         "patchfetch/dev (+https://github.com/patchfetch/patchfetch)",
			Timeout:           Duration{30 * time.Second},
			RequestsPerMinute: 30,
			PageRetries:       3,
			RetryDelay:        Duration{10 * time.Second},
			MaxPages:          0,
		},
		Retriever: RetrieverConfig{
			Command:       "b4",
			Args:          []string{"am", "{url}", "-C", "-o", "{dir}"},
			Retries:       4,
			RetryInterval: Duration{10 * time.Second},
			Timeout:       Duration{5 * time.Minute},
		},
		Cache: CacheConfig{
			Dir: "",
		},
		Output: OutputConfig{
			Dir: "b4_threads",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
