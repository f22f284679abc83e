// Package config provides file-based configuration for the intake service.
// The XML file is the default format; YAML is accepted when the file
// extension says so.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"AnexosIntake" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage" yaml:"storage"`

	// External backend
	Backend BackendConfig `xml:"Backend" yaml:"backend"`

	// Batch planning and submission
	Batching BatchingConfig `xml:"Batching" yaml:"batching"`

	// Intake policies
	Intake IntakeConfig `xml:"Intake" yaml:"intake"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"body_limit"`
}

// StorageConfig contains scratch storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory" yaml:"data_directory"`
	UploadsDirectory string `xml:"UploadsDirectory" yaml:"uploads_directory"`
}

// BackendConfig describes the external claim backend
type BackendConfig struct {
	BaseURL               string `xml:"BaseURL" yaml:"base_url"`
	SubmitPath            string `xml:"SubmitPath" yaml:"submit_path"`
	LegacyPath            string `xml:"LegacyPath" yaml:"legacy_path"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds" yaml:"request_timeout_seconds"`
}

// BatchingConfig contains planner and orchestrator settings
type BatchingConfig struct {
	MaxSingleSizeKB  int    `xml:"MaxSingleSizeKB" yaml:"max_single_size_kb"`
	GroupSize        int    `xml:"GroupSize" yaml:"group_size"`
	Order            string `xml:"Order" yaml:"order"` // "large-first", "discovery"
	MaxAttempts      int    `xml:"MaxAttempts" yaml:"max_attempts"`
	RetryDelayMs     int    `xml:"RetryDelayMs" yaml:"retry_delay_ms"`
	BatchesPerMinute int    `xml:"BatchesPerMinute" yaml:"batches_per_minute"`
	FailedBatchItems string `xml:"FailedBatchItems" yaml:"failed_batch_items"` // "mark-items", "batch-only"
}

// IntakeConfig contains loading and run retention settings
type IntakeConfig struct {
	UnreadablePolicy       string `xml:"UnreadablePolicy" yaml:"unreadable_policy"` // "drop", "abort"
	ReadConcurrency        int    `xml:"ReadConcurrency" yaml:"read_concurrency"`
	RunRetentionMinutes    int    `xml:"RunRetentionMinutes" yaml:"run_retention_minutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes" yaml:"cleanup_interval_minutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	EnableRequestLogging bool `xml:"EnableRequestLogging" yaml:"enable_request_logging"`
	EnableMetrics        bool `xml:"EnableMetrics" yaml:"enable_metrics"`
	EventBufferSize      int  `xml:"EventBufferSize" yaml:"event_buffer_size"`
	// ShowErrorDetails exposes the text of unexpected errors in API responses
	ShowErrorDetails bool `xml:"ShowErrorDetails" yaml:"show_error_details"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "127.0.0.1",
			EnableCORS:   false,
			AllowOrigins: "*",
			ReadTimeout:  60,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "512M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/selection",
		},
		Backend: BackendConfig{
			BaseURL:               "http://127.0.0.1:5000",
			SubmitPath:            "/api/enviar",
			LegacyPath:            "/api/process",
			RequestTimeoutSeconds: 300,
		},
		Batching: BatchingConfig{
			MaxSingleSizeKB:  800,
			GroupSize:        3,
			Order:            "large-first",
			MaxAttempts:      2,
			RetryDelayMs:     2000,
			BatchesPerMinute: 0,
			FailedBatchItems: "mark-items",
		},
		Intake: IntakeConfig{
			UnreadablePolicy:       "drop",
			ReadConcurrency:        0,
			RunRetentionMinutes:    60,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging: true,
			EnableMetrics:        true,
			EventBufferSize:      256,
			ShowErrorDetails:     true,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file.
// A missing file is created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset fields keep their defaults
	config := DefaultConfig()
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = xml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration in the format implied by the file extension
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# TISS attachment intake configuration\n"), out...)
	} else {
		out, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- TISS Attachment Intake Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, out...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the planner and orchestrator cannot work with
func (c *AppConfig) Validate() error {
	if c.Batching.GroupSize < 1 {
		return fmt.Errorf("invalid config: GroupSize must be at least 1, got %d", c.Batching.GroupSize)
	}
	if c.Batching.MaxAttempts < 1 {
		return fmt.Errorf("invalid config: MaxAttempts must be at least 1, got %d", c.Batching.MaxAttempts)
	}
	if c.Batching.MaxSingleSizeKB < 0 || c.Batching.RetryDelayMs < 0 || c.Batching.BatchesPerMinute < 0 {
		return fmt.Errorf("invalid config: batching values must not be negative")
	}
	switch c.Batching.Order {
	case "large-first", "discovery":
	default:
		return fmt.Errorf("invalid config: unknown batch order %q", c.Batching.Order)
	}
	switch c.Batching.FailedBatchItems {
	case "mark-items", "batch-only":
	default:
		return fmt.Errorf("invalid config: unknown failed batch policy %q", c.Batching.FailedBatchItems)
	}
	switch c.Intake.UnreadablePolicy {
	case "drop", "abort":
	default:
		return fmt.Errorf("invalid config: unknown unreadable policy %q", c.Intake.UnreadablePolicy)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("invalid config: Backend.BaseURL is required")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "selection")
	}

	if backend := os.Getenv("ANEXOS_BACKEND_URL"); backend != "" {
		c.Backend.BaseURL = backend
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
}

// GetUploadDir returns the absolute scratch directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// SubmitURL returns the full batched submission endpoint URL
func (c *AppConfig) SubmitURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Backend.SubmitPath
}

// LegacyURL returns the full single-shot endpoint URL
func (c *AppConfig) LegacyURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Backend.LegacyPath
}

// RequestTimeout returns the per-request timeout, zero meaning none
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// RetryDelay returns the wait before every attempt after the first
func (c *AppConfig) RetryDelay() time.Duration {
	return time.Duration(c.Batching.RetryDelayMs) * time.Millisecond
}

// MaxSingleSize returns the large-item threshold in bytes
func (c *AppConfig) MaxSingleSize() int64 {
	return int64(c.Batching.MaxSingleSizeKB) * 1024
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
