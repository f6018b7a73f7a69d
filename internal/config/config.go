// Package config loads the rwclient startup parameters from YAML.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the client startup parameters.
type Config struct {
	// ServerURL is the API endpoint of the audio server.
	ServerURL string `yaml:"server_url"`
	// ProjectID selects the project on the server.
	ProjectID string `yaml:"project_id"`
	// DeviceID overrides the persisted device id when set.
	DeviceID string `yaml:"device_id,omitempty"`
	// StorageDir holds the preferences db, the queue and content files.
	StorageDir string `yaml:"storage_dir"`
	// OnlyConnectOverWifi keeps the session off-line on non Wi-Fi networks.
	OnlyConnectOverWifi bool `yaml:"only_connect_over_wifi"`
	// AlwaysDownloadContent forces a content download on every start.
	AlwaysDownloadContent bool `yaml:"always_download_content"`

	NotificationTitle       string `yaml:"notification_title"`
	NotificationDefaultText string `yaml:"notification_default_text"`
	// NotificationScreen is the screen id opened from the notification.
	NotificationScreen string `yaml:"notification_screen"`

	// StaticSoundtrackSessionID is the session id the server assigns when
	// streaming the fallback soundtrack.
	StaticSoundtrackSessionID string `yaml:"static_soundtrack_session_id,omitempty"`

	// WorkerPoolSize bounds concurrent background tasks.
	WorkerPoolSize int `yaml:"worker_pool_size"`
	// ProbeInterval is how often connectivity is checked, e.g. "30s".
	ProbeInterval string `yaml:"probe_interval"`
	// APIListen is the local API address.
	APIListen string `yaml:"api_listen"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MockLocation, when set, is reported instead of a real position.
	MockLocation *MockLocation `yaml:"mock_location,omitempty"`
}

// MockLocation is a fixed position.
type MockLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:               "http://localhost:8888/api/1/",
		StorageDir:              defaultStorageDir(),
		NotificationTitle:       "Roundware",
		NotificationDefaultText: "Return to app",
		NotificationScreen:      "listen",
		WorkerPoolSize:          4,
		ProbeInterval:           "30s",
		APIListen:               "127.0.0.1:7466",
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rwclient"
	}
	return filepath.Join(home, ".rwclient")
}

// DefaultPath returns ~/.rwclient/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultStorageDir(), "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be at least 1")
	}
	if _, err := c.ProbeDuration(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q, must be: text or json", c.LogFormat)
	}
	return nil
}

// ProbeDuration parses ProbeInterval.
func (c *Config) ProbeDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ProbeInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid probe_interval %q: %w", c.ProbeInterval, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("probe_interval must be at least 1s")
	}
	return d, nil
}

// DBPath is the preferences database path.
func (c *Config) DBPath() string { return filepath.Join(c.StorageDir, "rwclient.db") }

// QueueDir is the action queue directory.
func (c *Config) QueueDir() string { return filepath.Join(c.StorageDir, "queue") }

// ContentDir is where downloaded content files are extracted.
func (c *Config) ContentDir() string { return filepath.Join(c.StorageDir, "content") }

// ConfigureLogger applies the level and format to logger.
func (c *Config) ConfigureLogger(logger *logrus.Logger) {
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Watch reloads path whenever it is written and passes the new configuration
// to fn. Invalid files are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger logrus.FieldLogger, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).Warn("config reload failed")
				continue
			}
			logger.WithField("path", path).Info("config reloaded")
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
