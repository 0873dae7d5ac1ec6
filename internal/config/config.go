package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Known identification services, in default priority order
var KnownProviders = []string{"shazam", "acrcloud"}

// ServiceAll selects every configured provider.
const ServiceAll = "all"

// MaxChunks caps how many windows one run may try.
const MaxChunks = 5

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRACKID_"

// Config contains the program configuration
type Config struct {
	Providers []string `yaml:"providers"`
	Service   string   `yaml:"service"`
	Chunks    int      `yaml:"chunks"`
	Prefetch  bool     `yaml:"prefetch"`
	KeepFiles bool     `yaml:"keep_files"`
	DataDir   string   `yaml:"data_dir"`
	OutputDir string   `yaml:"output_dir"`
	Verbose   bool     `yaml:"verbose"`
	LogFile   string   `yaml:"log_file"`

	ACRCloudHost         string `yaml:"acrcloud_host"`
	ACRCloudAccessKey    string `yaml:"acrcloud_access_key"`
	ACRCloudAccessSecret string `yaml:"acrcloud_access_secret"`
	Timeout              int    `yaml:"timeout"` // seconds, per provider request

	SongrecPath string `yaml:"songrec_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	YtdlpPath   string `yaml:"ytdlp_path"`

	Listen   string        `yaml:"listen"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Providers:    append([]string(nil), KnownProviders...),
		Service:      ServiceAll,
		Chunks:       1,
		DataDir:      "./data",
		ACRCloudHost: "identify-eu-west-1.acrcloud.com",
		Timeout:      10,
		FFmpegPath:   "ffmpeg",
		Listen:       "127.0.0.1:8080",
		CacheTTL:     time.Hour,
	}
}

// Load reads the config file (see LoadConfigFile) and applies TRACKID_*
// environment overrides on top of it.
func Load(path string) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// envKeys are the config keys that can be overridden from the environment.
// Each binds to EnvPrefix plus the upper-cased key, e.g. acrcloud_access_key
// to TRACKID_ACRCLOUD_ACCESS_KEY.
var envKeys = []string{
	"providers", "service", "chunks", "prefetch", "keep_files",
	"data_dir", "output_dir", "verbose", "log_file",
	"acrcloud_host", "acrcloud_access_key", "acrcloud_access_secret", "timeout",
	"songrec_path", "ffmpeg_path", "ytdlp_path",
	"listen", "cache_ttl",
}

// ApplyEnv overrides cfg with the TRACKID_* variables that are set.
// Values are converted to the field types; an unparsable value is an error.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(EnvPrefix, "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}

	if v.IsSet("providers") {
		// decoding into a non-nil slice would keep its old tail
		cfg.Providers = nil
	}
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return fmt.Errorf("invalid %s* environment: %w", EnvPrefix, err)
	}

	cfg.Providers = splitList(strings.Join(cfg.Providers, ","))
	cfg.expandPaths()
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) expandPaths() {
	c.DataDir = ExpandHome(c.DataDir)
	c.OutputDir = ExpandHome(c.OutputDir)
	c.LogFile = ExpandHome(c.LogFile)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./trackid.yaml",
		"./trackid.yml",
		filepath.Join(home, ".config", "trackid", "config.yaml"),
		filepath.Join(home, ".config", "trackid", "config.yml"),
		filepath.Join(home, ".trackid.yaml"),
		filepath.Join(home, ".trackid.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may hold ACRCloud credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "trackid", "config.yaml")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// ACRCloudConfigured reports whether both ACRCloud credentials are set.
func (c *Config) ACRCloudConfigured() bool {
	return c.ACRCloudAccessKey != "" && c.ACRCloudAccessSecret != ""
}

// RequestTimeout is the per-request provider timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ActiveProviders returns the configured providers narrowed to Service,
// keeping their configured order.
func (c *Config) ActiveProviders() []string {
	if c.Service == "" || c.Service == ServiceAll {
		return append([]string(nil), c.Providers...)
	}
	for _, p := range c.Providers {
		if p == c.Service {
			return []string{p}
		}
	}
	// not listed in providers: an explicit --service still selects it
	return []string{c.Service}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers cannot be empty, valid providers: %s", strings.Join(KnownProviders, ", "))
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if !isKnownProvider(p) {
			return fmt.Errorf("unknown provider %q, valid providers: %s", p, strings.Join(KnownProviders, ", "))
		}
		if seen[p] {
			return fmt.Errorf("provider %q listed twice", p)
		}
		seen[p] = true
	}

	if c.Service != "" && c.Service != ServiceAll && !isKnownProvider(c.Service) {
		return fmt.Errorf("unknown service %q, valid services: %s, %s", c.Service, strings.Join(KnownProviders, ", "), ServiceAll)
	}

	if c.Chunks < 1 || c.Chunks > MaxChunks {
		return fmt.Errorf("chunks must be between 1 and %d, got %d", MaxChunks, c.Chunks)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.KeepFiles && c.DataDir == "" && c.OutputDir == "" {
		return fmt.Errorf("data_dir cannot be empty when keep_files is set")
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}

	return nil
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// ClampChunks limits n to 1..MaxChunks.
func ClampChunks(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxChunks {
		return MaxChunks
	}
	return n
}
