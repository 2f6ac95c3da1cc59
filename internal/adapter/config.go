package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Platform  string          `mapstructure:"platform"` // empty derives from the running OS
	Cache     CacheConfig     `mapstructure:"cache"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Index     IndexConfig     `mapstructure:"index"`
	Bundle    BundleConfig    `mapstructure:"bundle"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Editor    bool            `mapstructure:"editor"` // serve every asset from the packaged store
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds distribution server configuration
type ServerConfig struct {
	URL string `mapstructure:"url"` // host[:port] or base URL
}

// CacheConfig holds the local cache layout
type CacheConfig struct {
	Dir             string `mapstructure:"dir"`              // persistent data directory
	BundleRoot      string `mapstructure:"bundle_root"`      // sub-directory of Dir, also the server path segment
	BundleExtension string `mapstructure:"bundle_extension"` // without the dot
	IndexFile       string `mapstructure:"index_file"`
	ScriptDir       string `mapstructure:"script_dir"` // sub-directory of the cache root
}

// ResourcesConfig locates the packaged resource store
type ResourcesConfig struct {
	Path string `mapstructure:"path"` // empty for none
}

// IndexConfig holds index generation settings
type IndexConfig struct {
	Hash string `mapstructure:"hash"` // "md5" or "blake3"
}

// BundleConfig holds bundle packing settings
type BundleConfig struct {
	Compression string `mapstructure:"compression"` // "none", "lz4" or "zstd"
}

// SyncConfig holds sync run settings
type SyncConfig struct {
	Verify  bool          `mapstructure:"verify"`  // check size and hash before writing a bundle
	Timeout time.Duration `mapstructure:"timeout"` // per request
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:             defaultDataPath(),
			BundleRoot:      "AssetBundles",
			BundleExtension: "unity3d",
			IndexFile:       "list.txt",
			ScriptDir:       "lua",
		},
		Index:  IndexConfig{Hash: "md5"},
		Bundle: BundleConfig{Compression: "lz4"},
		Sync: SyncConfig{
			Verify:  true,
			Timeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// CacheRoot returns the directory holding the local index and bundles.
func (c *Config) CacheRoot() string {
	return filepath.Join(c.Cache.Dir, c.Cache.BundleRoot)
}

// defaultDataPath returns the per-user persistent data directory
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "bundlesync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "bundlesync")
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	return filepath.Join(defaultDataPath(), "bundlesync.log")
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "bundlesync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "bundlesync")
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("platform", cfg.Platform)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.bundle_root", cfg.Cache.BundleRoot)
	v.SetDefault("cache.bundle_extension", cfg.Cache.BundleExtension)
	v.SetDefault("cache.index_file", cfg.Cache.IndexFile)
	v.SetDefault("cache.script_dir", cfg.Cache.ScriptDir)
	v.SetDefault("resources.path", cfg.Resources.Path)
	v.SetDefault("index.hash", cfg.Index.Hash)
	v.SetDefault("bundle.compression", cfg.Bundle.Compression)
	v.SetDefault("sync.verify", cfg.Sync.Verify)
	v.SetDefault("sync.timeout", cfg.Sync.Timeout)
	v.SetDefault("editor", cfg.Editor)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// LoadConfig loads configuration from file and environment. An empty
// path searches the default config directory and the working directory
// for config.yaml.
func LoadConfig(path string) (*Config, error) {
	return loadConfig(viper.GetViper(), path)
}

func loadConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. BUNDLESYNC_SERVER_URL
	v.SetEnvPrefix("BUNDLESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the server address and platform to the default
// config file, keeping other settings.
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("server.url", cfg.Server.URL)
	viper.Set("platform", cfg.Platform)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ClearCache removes the local cache root
func (c *Config) ClearCache() error {
	if err := os.RemoveAll(c.CacheRoot()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
