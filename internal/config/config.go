// Package config loads amankb configuration from defaults, the user config
// file, the project .amankb.yaml and AMANKB_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete amankb configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Indexing IndexingConfig `yaml:"indexing" json:"indexing"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// ProviderConfig selects the AI backend used for new collections.
// Existing collections always use the provider recorded in their metadata.
type ProviderConfig struct {
	// Provider is the backend name: ollama, openai or static.
	Provider        string `yaml:"provider" json:"provider" validate:"oneof=ollama openai static"`
	EmbeddingModel  string `yaml:"embedding_model" json:"embedding_model" validate:"required"`
	CompletionModel string `yaml:"completion_model" json:"completion_model"`
	// Endpoint overrides the backend's default base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKeyRef names where the key lives (env:NAME or keyring:NAME).
	// It is never the key itself.
	APIKeyRef string `yaml:"api_key_ref" json:"api_key_ref" validate:"credref"`
	// Dimensions requests a reduced output dimension where the backend supports it.
	Dimensions int `yaml:"dimensions" json:"dimensions" validate:"min=0"`
	// Timeout bounds each provider request (e.g. "30s").
	Timeout           string `yaml:"timeout" json:"timeout" validate:"duration"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute" validate:"min=0"`
	MaxConcurrent     int    `yaml:"max_concurrent" json:"max_concurrent" validate:"min=0"`
	MaxRetries        int    `yaml:"max_retries" json:"max_retries" validate:"min=0"`
}

// IndexingConfig configures reconciliation.
type IndexingConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size" validate:"min=100"`
	// Workers bounds how many notes are embedded concurrently.
	Workers       int    `yaml:"workers" json:"workers" validate:"min=1"`
	DataDir       string `yaml:"data_dir" json:"data_dir" validate:"required"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	// Exclude lists glob patterns skipped when indexing a markdown directory.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// SearchConfig configures the query side.
type SearchConfig struct {
	DefaultTopK    int `yaml:"default_top_k" json:"default_top_k" validate:"min=1"`
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size" validate:"min=0"`
	MaxQueryLength int `yaml:"max_query_length" json:"max_query_length" validate:"min=0"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport" validate:"oneof=stdio"`
	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
}

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Provider: ProviderConfig{
			Provider:        ProviderOllama,
			EmbeddingModel:  "nomic-embed-text",
			CompletionModel: "llama3.2",
			Timeout:         "30s",
			MaxConcurrent:   4,
			MaxRetries:      3,
		},
		Indexing: IndexingConfig{
			ChunkSize:     1000,
			Workers:       4,
			DataDir:       defaultDataDir(),
			WatchDebounce: "500ms",
		},
		Search: SearchConfig{
			DefaultTopK:    10,
			QueryCacheSize: 1000,
			MaxQueryLength: 2000,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amankb")
	}
	return filepath.Join(home, ".amankb")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amankb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amankb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amankb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amankb", "config.yaml")
	}
	return filepath.Join(home, ".config", "amankb", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := &Config{}
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amankb/config.yaml)
//  3. Project config (.amankb.yaml in dir)
//  4. Environment variables (AMANKB_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load .amankb.yaml, then .amankb.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".amankb.yaml", ".amankb.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			parsed := &Config{}
			if err := parsed.loadYAML(path); err != nil {
				return err
			}
			c.mergeWith(parsed)
			return nil
		}
	}
	return nil
}

// loadYAML decodes path into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	p, o := &c.Provider, other.Provider
	mergeString(&p.Provider, o.Provider)
	mergeString(&p.EmbeddingModel, o.EmbeddingModel)
	mergeString(&p.CompletionModel, o.CompletionModel)
	mergeString(&p.Endpoint, o.Endpoint)
	mergeString(&p.APIKeyRef, o.APIKeyRef)
	mergeString(&p.Timeout, o.Timeout)
	mergeInt(&p.Dimensions, o.Dimensions)
	mergeInt(&p.RequestsPerMinute, o.RequestsPerMinute)
	mergeInt(&p.MaxConcurrent, o.MaxConcurrent)
	mergeInt(&p.MaxRetries, o.MaxRetries)

	mergeInt(&c.Indexing.ChunkSize, other.Indexing.ChunkSize)
	mergeInt(&c.Indexing.Workers, other.Indexing.Workers)
	mergeString(&c.Indexing.DataDir, expandHome(other.Indexing.DataDir))
	mergeString(&c.Indexing.WatchDebounce, other.Indexing.WatchDebounce)
	if len(other.Indexing.Exclude) > 0 {
		c.Indexing.Exclude = other.Indexing.Exclude
	}

	mergeInt(&c.Search.DefaultTopK, other.Search.DefaultTopK)
	mergeInt(&c.Search.QueryCacheSize, other.Search.QueryCacheSize)
	mergeInt(&c.Search.MaxQueryLength, other.Search.MaxQueryLength)

	mergeString(&c.Server.Transport, other.Server.Transport)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies AMANKB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	strs := map[string]*string{
		"AMANKB_PROVIDER":         &c.Provider.Provider,
		"AMANKB_EMBEDDING_MODEL":  &c.Provider.EmbeddingModel,
		"AMANKB_COMPLETION_MODEL": &c.Provider.CompletionModel,
		"AMANKB_ENDPOINT":         &c.Provider.Endpoint,
		"AMANKB_API_KEY_REF":      &c.Provider.APIKeyRef,
		"AMANKB_TIMEOUT":          &c.Provider.Timeout,
		"AMANKB_LOG_LEVEL":        &c.Server.LogLevel,
		"AMANKB_TRANSPORT":        &c.Server.Transport,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("AMANKB_DATA_DIR"); v != "" {
		c.Indexing.DataDir = expandHome(v)
	}

	ints := map[string]*int{
		"AMANKB_CHUNK_SIZE":          &c.Indexing.ChunkSize,
		"AMANKB_WORKERS":             &c.Indexing.Workers,
		"AMANKB_REQUESTS_PER_MINUTE": &c.Provider.RequestsPerMinute,
		"AMANKB_MAX_CONCURRENT":      &c.Provider.MaxConcurrent,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			// Malformed numbers are ignored rather than zeroing the value.
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// TimeoutDuration returns the parsed per-request timeout.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// DebounceDuration returns the parsed watch debounce interval.
func (i IndexingConfig) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(i.WatchDebounce)
	if err != nil || d < 0 {
		return 500 * time.Millisecond
	}
	return d
}

// FindProjectRoot walks up from startDir looking for .amankb.yaml or .git.
// Returns startDir (absolute) when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		startDir = wd
	}

	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("directory does not exist: %w", err)
	}

	for dir := abs; ; dir = filepath.Dir(dir) {
		if fileExists(filepath.Join(dir, ".amankb.yaml")) ||
			fileExists(filepath.Join(dir, ".amankb.yml")) ||
			dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// Marshal renders the configuration as YAML. Credential fields hold
// references only, so the output is safe to print.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
