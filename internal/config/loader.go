package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var validate = validator.New()

// Load reads and parses the configuration file.
// A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(expandedPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, path[1:]), nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() error {
	var err error

	c.Cache.Dir, err = expandPath(c.Cache.Dir)
	if err != nil {
		return err
	}

	c.Output.Dir, err = expandPath(c.Output.Dir)
	if err != nil {
		return err
	}

	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s failed '%s' check (value: %v)", fieldName(fe), fe.Tag(), fe.Value()))
		}
	}

	if c.Archive.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("archive.timeout must be positive"))
	}
	if c.Archive.RetryDelay.Duration < 0 {
		errs = append(errs, errors.New("archive.retry_delay must not be negative"))
	}
	if c.Retriever.RetryInterval.Duration < 0 {
		errs = append(errs, errors.New("retriever.retry_interval must not be negative"))
	}
	if c.Retriever.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("retriever.timeout must be positive"))
	}
	if !hasPlaceholder(c.Retriever.Args, "{url}") && !hasPlaceholder(c.Retriever.Args, "{msgid}") {
		errs = append(errs, errors.New("retriever.args must reference {url} or {msgid}"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// fieldName maps a validator namespace like Config.Archive.PageRetries to archive.PageRetries
func fieldName(fe validator.FieldError) string {
	ns := strings.TrimPrefix(fe.Namespace(), "Config.")
	return strings.ToLower(ns[:1]) + ns[1:]
}

func hasPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CachePath returns the cache file for the given archive base URL.
// The name is derived from the URL alone, so every run against the same
// archive shares one cache.
func (c *Config) CachePath(baseURL string) string {
	return filepath.Join(c.Cache.Dir, CacheFileName(baseURL))
}

// CacheFileName derives the cache file name from a base URL, e.g.
// https://lore.kernel.org/netdev/ -> lore.kernel.org_netdev_cache.db
func CacheFileName(baseURL string) string {
	name := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.Trim(name, "_")
	return name + "_cache.db"
}

// EnsureDirectories creates the output and cache directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Output.Dir}
	if c.Cache.Dir != "" {
		dirs = append(dirs, c.Cache.Dir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
