package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// setting is one addressable leaf of Config, e.g. "widget.settleMs".
type setting struct {
	path string
	unit time.Duration // non-zero for integer fields that hold a duration
	get  func(c *Config) any
	set  func(c *Config, raw string) error
}

func stringSetting(path string, field func(c *Config) *string) setting {
	return setting{
		path: path,
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			*field(c) = raw
			return nil
		},
	}
}

func boolSetting(path string, field func(c *Config) *bool) setting {
	return setting{
		path: path,
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s expects true or false, got %q", path, raw)
			}
			*field(c) = b
			return nil
		},
	}
}

func intSetting(path string, field func(c *Config) *int) setting {
	return setting{
		path: path,
		get:  func(c *Config) any { return *field(c) },
		set: func(c *Config, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s expects an integer, got %q", path, raw)
			}
			*field(c) = n
			return nil
		},
	}
}

// durationSetting stores a count of unit. It accepts a bare count or a Go
// duration string ("250ms", "1.5s", "48h") that is a whole number of units.
func durationSetting(path string, unit time.Duration, field func(c *Config) *int) setting {
	s := intSetting(path, field)
	s.unit = unit
	s.set = func(c *Config, raw string) error {
		n, err := parseUnits(raw, unit)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*field(c) = n
		return nil
	}
	return s
}

func parseUnits(raw string, unit time.Duration) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return n, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("expects a count of %s or a duration, got %q", unitName(unit), raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	if d%unit != 0 {
		return 0, fmt.Errorf("%s is not a whole number of %s", d, unitName(unit))
	}
	return int(d / unit), nil
}

func unitName(unit time.Duration) string {
	switch unit {
	case time.Millisecond:
		return "milliseconds"
	case time.Second:
		return "seconds"
	case 24 * time.Hour:
		return "days"
	}
	return unit.String()
}

var settings = []setting{
	stringSetting("general.logLevel", func(c *Config) *string { return &c.General.LogLevel }),
	stringSetting("general.logFile", func(c *Config) *string { return &c.General.LogFile }),

	stringSetting("service.apiBase", func(c *Config) *string { return &c.Service.APIBase }),
	stringSetting("service.wsBase", func(c *Config) *string { return &c.Service.WSBase }),
	durationSetting("service.timeoutSeconds", time.Second, func(c *Config) *int { return &c.Service.TimeoutSeconds }),
	intSetting("service.retries", func(c *Config) *int { return &c.Service.Retries }),
	boolSetting("service.endOnClose", func(c *Config) *bool { return &c.Service.EndOnClose }),

	stringSetting("browser.profileDir", func(c *Config) *string { return &c.Browser.ProfileDir }),
	boolSetting("browser.headless", func(c *Config) *bool { return &c.Browser.Headless }),
	stringSetting("browser.startURL", func(c *Config) *string { return &c.Browser.StartURL }),
	{
		path: "browser.hosts",
		get:  func(c *Config) any { return append([]string(nil), c.Browser.Hosts...) },
		set: func(c *Config, raw string) error {
			var hosts []string
			for _, h := range strings.Split(raw, ",") {
				if h = strings.TrimSpace(h); h != "" {
					hosts = append(hosts, h)
				}
			}
			c.Browser.Hosts = hosts
			return nil
		},
	},

	stringSetting("widget.className", func(c *Config) *string { return &c.Widget.ClassName }),
	stringSetting("widget.assetBase", func(c *Config) *string { return &c.Widget.AssetBase }),
	durationSetting("widget.settleMs", time.Millisecond, func(c *Config) *int { return &c.Widget.SettleMs }),

	boolSetting("journal.enabled", func(c *Config) *bool { return &c.Journal.Enabled }),
	stringSetting("journal.dbPath", func(c *Config) *string { return &c.Journal.DBPath }),
	durationSetting("journal.retentionDays", 24*time.Hour, func(c *Config) *int { return &c.Journal.RetentionDays }),

	boolSetting("metrics.enabled", func(c *Config) *bool { return &c.Metrics.Enabled }),
	stringSetting("metrics.addr", func(c *Config) *string { return &c.Metrics.Addr }),

	intSetting("mock.port", func(c *Config) *int { return &c.Mock.Port }),
	durationSetting("mock.stepDelayMs", time.Millisecond, func(c *Config) *int { return &c.Mock.StepDelayMs }),
	boolSetting("mock.hold", func(c *Config) *bool { return &c.Mock.Hold }),
	stringSetting("mock.scriptFile", func(c *Config) *string { return &c.Mock.ScriptFile }),
}

func lookup(path string) (setting, error) {
	for _, s := range settings {
		if s.path == path {
			return s, nil
		}
	}
	section, _, _ := strings.Cut(path, ".")
	for _, s := range settings {
		if strings.HasPrefix(s.path, section+".") {
			return setting{}, fmt.Errorf("key not found: %s", path)
		}
	}
	return setting{}, fmt.Errorf("unknown config section %q", section)
}

// GetByPath retrieves a config value by dot-notation path (e.g. "service.apiBase").
// List entries are addressed by index, as in "browser.hosts.0".
func GetByPath(cfg *Config, path string) (any, error) {
	if idx, ok := strings.CutPrefix(path, "browser.hosts."); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(cfg.Browser.Hosts) {
			return nil, fmt.Errorf("invalid list index: %s", idx)
		}
		return cfg.Browser.Hosts[i], nil
	}
	s, err := lookup(path)
	if err != nil {
		return nil, err
	}
	return s.get(cfg), nil
}

// SetByPath parses raw for the field at path and assigns it. Duration fields
// take a bare count in their unit or a duration string; list fields take a
// comma-separated value.
func SetByPath(cfg *Config, path, raw string) error {
	s, err := lookup(path)
	if err != nil {
		return err
	}
	return s.set(cfg, raw)
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any, len(settings))
	for _, s := range settings {
		result[s.path] = s.get(cfg)
	}
	return result
}

// Describe renders every setting as "path = value" lines, section by section.
// Duration fields carry their unit.
func Describe(cfg *Config) []string {
	lines := make([]string, 0, len(settings))
	for _, s := range settings {
		line := fmt.Sprintf("%s = %v", s.path, s.get(cfg))
		if s.unit != 0 {
			line += " (" + unitName(s.unit) + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// Sanitize returns a copy of the config with credentials in service URLs masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Browser.Hosts = append([]string(nil), cfg.Browser.Hosts...)
	out.Service.APIBase = maskUserinfo(out.Service.APIBase)
	out.Service.WSBase = maskUserinfo(out.Service.WSBase)
	return &out
}

func maskUserinfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if pw, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), maskString(pw))
	}
	return u.String()
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
