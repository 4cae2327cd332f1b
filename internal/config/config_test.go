package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Download: DownloadConfig{
			OutputDir:     filepath.Join(dir, "downloads"),
			TempDir:       filepath.Join(dir, "tmp"),
			FileExtension: ".m4a",
			MinFileSizeKB: 100,
		},
		Network: NetworkConfig{Timeout: 30, ValidateBeforeRetry: true},
		Storage: StorageConfig{Backend: "file", DataDir: dir},
		Artwork: ArtworkConfig{Enabled: true, CacheDir: filepath.Join(dir, "artwork"), MaxSize: 600, RequestsPerSecond: 4},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Output:    "console",
			MaxSizeMB: 100,
		},
	}
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SOUNDBASE_DATA_DIR", dir)
	configPath := filepath.Join(dir, "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("expected default config file to be written: %v", err)
	}

	if cfg.Download.MinFileSizeKB != 100 {
		t.Errorf("MinFileSizeKB = %d, want 100", cfg.Download.MinFileSizeKB)
	}
	if cfg.Download.FileExtension != ".m4a" {
		t.Errorf("FileExtension = %q, want .m4a", cfg.Download.FileExtension)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Backend = %q, want file", cfg.Storage.Backend)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SOUNDBASE_DATA_DIR", dir)
	configPath := filepath.Join(dir, "settings.json")

	cfg := testConfig(t)
	cfg.Download.MinFileSizeKB = 250
	cfg.Storage.Backend = "sqlite"
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Download.MinFileSizeKB != 250 {
		t.Errorf("MinFileSizeKB = %d, want 250", loaded.Download.MinFileSizeKB)
	}
	if loaded.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", loaded.Storage.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty output dir", func(c *Config) { c.Download.OutputDir = "" }, true},
		{"zero min size", func(c *Config) { c.Download.MinFileSizeKB = 0 }, true},
		{"zero timeout", func(c *Config) { c.Network.Timeout = 0 }, true},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, true},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }, true},
		{"artwork too small", func(c *Config) { c.Artwork.MaxSize = 10 }, true},
		{"artwork too big", func(c *Config) { c.Artwork.MaxSize = 10000 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad log output", func(c *Config) { c.Logging.Output = "syslog" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsExtensionDefault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Download.FileExtension = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Download.FileExtension != ".m4a" {
		t.Errorf("FileExtension = %q, want .m4a", cfg.Download.FileExtension)
	}
}

func TestMinFileSizeBytes(t *testing.T) {
	cfg := testConfig(t)
	if got := cfg.MinFileSizeBytes(); got != 100*1024 {
		t.Errorf("MinFileSizeBytes() = %d, want %d", got, 100*1024)
	}
}
