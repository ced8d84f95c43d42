package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir so a developer's own
// ~/.config/amankb never leaks into tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeUserConfig(t *testing.T, xdg, content string) {
	t.Helper()
	dir := filepath.Join(xdg, "amankb")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, "ollama", cfg.Provider.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Provider.EmbeddingModel)
	assert.Equal(t, "llama3.2", cfg.Provider.CompletionModel)
	assert.Equal(t, "", cfg.Provider.APIKeyRef)
	assert.Equal(t, 30*time.Second, cfg.Provider.TimeoutDuration())
	assert.Equal(t, 0, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Provider.MaxConcurrent)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)

	assert.Equal(t, 1000, cfg.Indexing.ChunkSize)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.Contains(t, cfg.Indexing.DataDir, ".amankb")
	assert.Equal(t, 500*time.Millisecond, cfg.Indexing.DebounceDuration())

	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, 1000, cfg.Search.QueryCacheSize)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// File loading and precedence
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Provider, cfg.Provider)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	content := `
version: 1
provider:
  provider: openai
  embedding_model: text-embedding-3-small
  api_key_ref: env:OPENAI_API_KEY
  requests_per_minute: 500
indexing:
  chunk_size: 800
  workers: 2
search:
  default_top_k: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Provider.EmbeddingModel)
	assert.Equal(t, "env:OPENAI_API_KEY", cfg.Provider.APIKeyRef)
	assert.Equal(t, 500, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, 800, cfg.Indexing.ChunkSize)
	assert.Equal(t, 2, cfg.Indexing.Workers)
	assert.Equal(t, 5, cfg.Search.DefaultTopK)
	// untouched fields keep their defaults
	assert.Equal(t, "llama3.2", cfg.Provider.CompletionModel)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yml"),
		[]byte("indexing:\n  chunk_size: 1500\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Indexing.ChunkSize)
}

func TestLoad_UserConfig_ProjectConfig_EnvPrecedence(t *testing.T) {
	xdg := isolate(t)
	dir := t.TempDir()

	writeUserConfig(t, xdg, `
provider:
  provider: ollama
  embedding_model: user-model
  endpoint: http://gpu-box:11434
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yaml"),
		[]byte("provider:\n  embedding_model: project-model\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Provider.EmbeddingModel)
	assert.Equal(t, "http://gpu-box:11434", cfg.Provider.Endpoint)

	t.Setenv("AMANKB_EMBEDDING_MODEL", "env-model")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Provider.EmbeddingModel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AMANKB_PROVIDER", "static")
	t.Setenv("AMANKB_CHUNK_SIZE", "700")
	t.Setenv("AMANKB_WORKERS", "not-a-number")
	t.Setenv("AMANKB_LOG_LEVEL", "debug")
	t.Setenv("AMANKB_DATA_DIR", "/tmp/kb-data")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Provider.Provider)
	assert.Equal(t, 700, cfg.Indexing.ChunkSize)
	assert.Equal(t, 4, cfg.Indexing.Workers, "malformed number is ignored")
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "/tmp/kb-data", cfg.Indexing.DataDir)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yaml"),
		[]byte("provider:\n  embedding_model: [broken\n"), 0o644))

	cfg, err := Load(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := isolate(t)
	writeUserConfig(t, xdg, "indexing: [nope\n")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user config")
}

func TestLoad_DataDirTildeExpanded(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yaml"),
		[]byte("indexing:\n  data_dir: ~/kb\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "kb"), cfg.Indexing.DataDir)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown provider", func(c *Config) { c.Provider.Provider = "mlx" }, "provider.provider"},
		{"empty model", func(c *Config) { c.Provider.EmbeddingModel = "" }, "embedding_model"},
		{"literal api key", func(c *Config) { c.Provider.APIKeyRef = "sk-abc123" }, "never a literal"},
		{"bad timeout", func(c *Config) { c.Provider.Timeout = "soon" }, "provider.timeout"},
		{"negative rpm", func(c *Config) { c.Provider.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"tiny chunk size", func(c *Config) { c.Indexing.ChunkSize = 10 }, "chunk_size"},
		{"zero workers", func(c *Config) { c.Indexing.Workers = 0 }, "workers"},
		{"zero top k", func(c *Config) { c.Search.DefaultTopK = 0 }, "default_top_k"},
		{"sse transport", func(c *Config) { c.Server.Transport = "sse" }, "transport"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "trace" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_DoesNotEchoLiteralKey(t *testing.T) {
	cfg := NewConfig()
	cfg.Provider.APIKeyRef = "sk-live-secret"

	err := cfg.Validate()

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk-live-secret")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := NewConfig()
	cfg.Indexing.Workers = 0
	cfg.Search.DefaultTopK = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing.workers must be at least 1, got 0")
	assert.Contains(t, err.Error(), "; ")
}

func TestNormalize_LowercasesEnumerations(t *testing.T) {
	cfg := NewConfig()
	cfg.Provider.Provider = " OpenAI "
	cfg.Server.Transport = "STDIO"
	cfg.Server.LogLevel = "Debug"

	cfg.normalize()

	assert.Equal(t, "openai", cfg.Provider.Provider)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AcceptsCredentialReferences(t *testing.T) {
	for _, ref := range []string{"", "env:OPENAI_API_KEY", "keyring:openai"} {
		cfg := NewConfig()
		cfg.Provider.APIKeyRef = ref
		assert.NoError(t, cfg.Validate(), ref)
	}
}

// =============================================================================
// Project root, persistence, backups
// =============================================================================

func TestFindProjectRoot_ConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".amankb.yaml"), []byte("version: 1\n"), 0o644))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindProjectRoot_NonExistentDir_ReturnsError(t *testing.T) {
	_, err := FindProjectRoot(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestMarshal_RoundTrips(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Provider.EmbeddingModel = "mxbai-embed-large"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amankb.yaml"), data, 0o644))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", loaded.Provider.EmbeddingModel)
}

func TestInitUserConfig_BacksUpExisting(t *testing.T) {
	xdg := isolate(t)

	path, backup, err := InitUserConfig(false)
	require.NoError(t, err)
	assert.Empty(t, backup)
	assert.FileExists(t, path)

	_, _, err = InitUserConfig(false)
	assert.Error(t, err, "refuses to overwrite without force")

	writeUserConfig(t, xdg, "provider:\n  embedding_model: custom\n")
	_, backup, err = InitUserConfig(true)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom")
}

func TestBackupUserConfig_KeepsAtMostMaxBackups(t *testing.T) {
	xdg := isolate(t)
	writeUserConfig(t, xdg, "version: 1\n")

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupUserConfig()
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
}

func TestInitUserConfig_TemplateLoadsAsDefaults(t *testing.T) {
	isolate(t)

	path, _, err := InitUserConfig(false)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_key_ref")

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	def := NewConfig()
	assert.Equal(t, def.Provider, loaded.Provider)
	assert.Equal(t, def.Search, loaded.Search)
	assert.Equal(t, def.Server, loaded.Server)
	assert.Equal(t, def.Indexing.ChunkSize, loaded.Indexing.ChunkSize)
}
