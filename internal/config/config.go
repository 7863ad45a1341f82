// Package config holds the runtime's startup configuration: the control
// plane's listen address, the artifact cache's storage location and hash
// algorithm, the watched-directory auto-start root, and BTF resolution
// settings. Every field has a sane default and an EUNOMIA_-prefixed
// environment variable override, following the same load-then-validate
// shape used throughout this module's example pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the runtime's top-level configuration.
type Config struct {
	// ControlAddr is the listen address for the HTTP control plane.
	ControlAddr string

	// MetricsAddr is the listen address for the Prometheus metrics server.
	MetricsAddr string

	// WatchDir is the directory auto-started artifacts are dropped into.
	// Empty disables the directory watcher.
	WatchDir string

	// ArtifactCacheDir is where the artifact cache's Pebble database lives.
	ArtifactCacheDir string

	// HashAlgo selects the artifact cache's content-addressing hash
	// function ("sha256" or "blake3").
	HashAlgo string

	// LogBufferCapacity is loaded and validated, but the task log buffers
	// are not bounded by it and drop nothing: entries leave a buffer only
	// when a poll with a cursor prunes them.
	LogBufferCapacity int

	BTF BTFConfig
}

// BTFConfig holds the BTFHub archive settings. They are loaded and
// validated only; no component reads them, and nothing downloads or caches
// BTFHub archives.
type BTFConfig struct {
	CacheDir      string
	AllowDownload bool
	HubMirror     string
}

// Default returns the runtime's default configuration.
func Default() *Config {
	return &Config{
		ControlAddr:       ":9700",
		MetricsAddr:       ":9701",
		WatchDir:          "",
		ArtifactCacheDir:  defaultCacheDir(),
		HashAlgo:          "sha256",
		LogBufferCapacity: 4096,
		BTF:               defaultBTFConfig(),
	}
}

// LoadFromEnv returns Default, overridden by any EUNOMIA_* environment
// variables that are set.
func LoadFromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("EUNOMIA_CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}
	if v := os.Getenv("EUNOMIA_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("EUNOMIA_WATCH_DIR"); v != "" {
		cfg.WatchDir = v
	}
	if v := os.Getenv("EUNOMIA_ARTIFACT_CACHE_DIR"); v != "" {
		cfg.ArtifactCacheDir = v
	}
	if v := os.Getenv("EUNOMIA_HASH_ALGO"); v != "" {
		cfg.HashAlgo = v
	}
	if v := os.Getenv("EUNOMIA_LOG_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogBufferCapacity = n
		}
	}

	cfg.BTF = loadBTFConfigFromEnv(cfg.BTF)
	return cfg
}

// Validate reports whether cfg is internally consistent and safe to run
// with.
func (c *Config) Validate() error {
	if c.ControlAddr == "" {
		return fmt.Errorf("control address must not be empty")
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("metrics address must not be empty")
	}
	if c.ArtifactCacheDir == "" {
		return fmt.Errorf("artifact cache directory must not be empty")
	}
	if c.HashAlgo != "sha256" && c.HashAlgo != "blake3" {
		return fmt.Errorf("invalid hash algorithm: %s (must be %q or %q)", c.HashAlgo, "sha256", "blake3")
	}
	if c.LogBufferCapacity <= 0 {
		return fmt.Errorf("log buffer capacity must be positive, got %d", c.LogBufferCapacity)
	}
	return c.BTF.Validate()
}

// Validate ensures the BTF configuration is usable for CO-RE relocations.
func (c BTFConfig) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("btf cache directory must be provided")
	}
	if c.AllowDownload && c.HubMirror == "" {
		return fmt.Errorf("btfhub mirror must be provided when downloads are allowed")
	}
	return nil
}

func defaultCacheDir() string {
	if _, err := os.Stat("/var/cache"); err == nil {
		return "/var/cache/eunomia-runtime/artifacts"
	}
	return filepath.Join(os.TempDir(), "eunomia-runtime", "artifacts")
}

func defaultBTFConfig() BTFConfig {
	cacheDir := "/var/cache/eunomia-runtime/btf"
	if _, err := os.Stat("/var/cache"); err != nil {
		cacheDir = filepath.Join(os.TempDir(), "eunomia-runtime", "btf")
	}
	return BTFConfig{
		CacheDir:      cacheDir,
		AllowDownload: true,
		HubMirror:     "https://github.com/aquasecurity/btfhub-archive/raw/main",
	}
}

func loadBTFConfigFromEnv(cfg BTFConfig) BTFConfig {
	if v := os.Getenv("EUNOMIA_BTF_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("EUNOMIA_BTF_ALLOW_DOWNLOAD"); v != "" {
		cfg.AllowDownload = v == "1" || v == "true" || v == "TRUE"
	}
	if v := os.Getenv("EUNOMIA_BTF_MIRROR"); v != "" {
		cfg.HubMirror = v
	}
	return cfg
}
