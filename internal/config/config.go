package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Artwork  ArtworkConfig  `json:"artwork" mapstructure:"artwork"`
	Metadata MetadataConfig `json:"metadata" mapstructure:"metadata"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	OutputDir     string `json:"output_dir" mapstructure:"output_dir"`
	TempDir       string `json:"temp_dir" mapstructure:"temp_dir"`
	FileExtension string `json:"file_extension" mapstructure:"file_extension"`
	MinFileSizeKB int    `json:"min_file_size_kb" mapstructure:"min_file_size_kb"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout             int  `json:"timeout" mapstructure:"timeout"`
	ValidateBeforeRetry bool `json:"validate_before_retry" mapstructure:"validate_before_retry"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // "file" or "sqlite"
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ArtworkConfig contains thumbnail fetching settings
type ArtworkConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	CacheDir          string  `json:"cache_dir" mapstructure:"cache_dir"`
	MaxSize           int     `json:"max_size" mapstructure:"max_size"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
}

// MetadataConfig contains tag embedding settings
type MetadataConfig struct {
	EmbedTags    bool `json:"embed_tags" mapstructure:"embed_tags"`
	EmbedArtwork bool `json:"embed_artwork" mapstructure:"embed_artwork"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Determine config path
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// Set config file
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Ensure config directory exists
	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create with defaults
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else if os.IsNotExist(err) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Allow environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("SOUNDBASE")

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Download validation
	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if c.Download.MinFileSizeKB < 1 {
		return fmt.Errorf("minimum file size must be at least 1 KB")
	}

	if c.Download.FileExtension == "" {
		c.Download.FileExtension = ".m4a"
	}

	// Network validation
	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	// Storage validation
	if c.Storage.Backend != "file" && c.Storage.Backend != "sqlite" {
		return fmt.Errorf("invalid storage backend: %s (must be file or sqlite)", c.Storage.Backend)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	// Artwork validation
	if c.Artwork.MaxSize < 100 || c.Artwork.MaxSize > 5000 {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	if c.Artwork.RequestsPerSecond <= 0 {
		return fmt.Errorf("artwork requests per second must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("download", c.Download)
	v.Set("network", c.Network)
	v.Set("storage", c.Storage)
	v.Set("artwork", c.Artwork)
	v.Set("metadata", c.Metadata)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// MinFileSizeBytes returns the artifact size floor in bytes
func (c *Config) MinFileSizeBytes() int64 {
	return int64(c.Download.MinFileSizeKB) * 1024
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	// Download defaults
	v.SetDefault("download.output_dir", filepath.Join(dataDir, "downloads"))
	v.SetDefault("download.temp_dir", filepath.Join(dataDir, "tmp"))
	v.SetDefault("download.file_extension", ".m4a")
	v.SetDefault("download.min_file_size_kb", 100)

	// Network defaults
	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.validate_before_retry", true)

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.data_dir", dataDir)

	// Artwork defaults
	v.SetDefault("artwork.enabled", true)
	v.SetDefault("artwork.cache_dir", filepath.Join(dataDir, "artwork"))
	v.SetDefault("artwork.max_size", 600)
	v.SetDefault("artwork.requests_per_second", 4.0)

	// Metadata defaults
	v.SetDefault("metadata.embed_tags", true)
	v.SetDefault("metadata.embed_artwork", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "app.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// Reload reloads the configuration from file
func (c *Config) Reload(configPath string) error {
	newConfig, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	// Update current config
	*c = *newConfig
	return nil
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if dir := os.Getenv("SOUNDBASE_DATA_DIR"); dir != "" {
		return dir
	}

	appData := os.Getenv("APPDATA")
	if appData == "" {
		appData = os.Getenv("HOME")
	}
	return filepath.Join(appData, "SoundBase")
}
