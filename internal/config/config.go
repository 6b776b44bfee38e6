package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for polybrain.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Service ServiceConfig `json:"service" yaml:"service"`
	Browser BrowserConfig `json:"browser" yaml:"browser"`
	Widget  WidgetConfig  `json:"widget" yaml:"widget"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Mock    MockConfig    `json:"mock" yaml:"mock"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path, rotated
}

// ServiceConfig locates the assistant service.
type ServiceConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	WSBase         string `json:"wsBase,omitempty" yaml:"wsBase,omitempty"` // derived from apiBase when empty
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Retries        int    `json:"retries" yaml:"retries"`
	EndOnClose     bool   `json:"endOnClose" yaml:"endOnClose"`
}

type BrowserConfig struct {
	ProfileDir string   `json:"profileDir" yaml:"profileDir"`
	Headless   bool     `json:"headless" yaml:"headless"`
	StartURL   string   `json:"startURL" yaml:"startURL"`
	Hosts      []string `json:"hosts" yaml:"hosts"` // hosts whose document pages get the widget
}

type WidgetConfig struct {
	ClassName string `json:"className" yaml:"className"`
	AssetBase string `json:"assetBase" yaml:"assetBase"`
	SettleMs  int    `json:"settleMs" yaml:"settleMs"`
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// MockConfig configures the built-in mock assistant service.
type MockConfig struct {
	Port        int    `json:"port" yaml:"port"`
	StepDelayMs int    `json:"stepDelayMs" yaml:"stepDelayMs"`
	Hold        bool   `json:"hold" yaml:"hold"`
	ScriptFile  string `json:"scriptFile,omitempty" yaml:"scriptFile,omitempty"` // YAML script; the default turn when empty
}

// Timeout is the session creation bound.
func (s ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SettleDelay is the icon settle delay.
func (w WidgetConfig) SettleDelay() time.Duration {
	return time.Duration(w.SettleMs) * time.Millisecond
}

// Retention is how long journal entries are kept.
func (j JournalConfig) Retention() time.Duration {
	return time.Duration(j.RetentionDays) * 24 * time.Hour
}

// StepDelay is the pause between scripted mock frames.
func (m MockConfig) StepDelay() time.Duration {
	return time.Duration(m.StepDelayMs) * time.Millisecond
}

// DefaultConfigDir returns the default config directory (~/.polybrain).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".polybrain"
	}
	return filepath.Join(home, ".polybrain")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Mock.ScriptFile = ExpandPath(cfg.Mock.ScriptFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if err := checkURL(cfg.Service.APIBase, "http", "https"); err != nil {
		errs = append(errs, "service.apiBase "+err.Error())
	}
	if cfg.Service.WSBase != "" {
		if err := checkURL(cfg.Service.WSBase, "ws", "wss"); err != nil {
			errs = append(errs, "service.wsBase "+err.Error())
		}
	}
	if cfg.Service.TimeoutSeconds < 1 || cfg.Service.TimeoutSeconds > 300 {
		errs = append(errs, "service.timeoutSeconds must be between 1 and 300")
	}
	if cfg.Service.Retries < 0 || cfg.Service.Retries > 5 {
		errs = append(errs, "service.retries must be between 0 and 5")
	}

	if cfg.Widget.ClassName == "" {
		errs = append(errs, "widget.className is required")
	}
	if cfg.Widget.SettleMs < 0 || cfg.Widget.SettleMs > 5000 {
		errs = append(errs, "widget.settleMs must be between 0 and 5000")
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}
	if cfg.Journal.RetentionDays < 1 {
		errs = append(errs, "journal.retentionDays must be >= 1")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if cfg.Mock.Port < 0 || cfg.Mock.Port > 65535 {
		errs = append(errs, "mock.port must be between 0 and 65535")
	}
	if cfg.Mock.StepDelayMs < 0 {
		errs = append(errs, "mock.stepDelayMs must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("must use scheme %s", strings.Join(schemes, " or "))
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
