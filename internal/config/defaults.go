package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Service: ServiceConfig{
			APIBase:        "http://localhost:8000",
			TimeoutSeconds: 10,
			Retries:        1,
			EndOnClose:     true,
		},
		Browser: BrowserConfig{
			ProfileDir: "~/.polybrain/chrome-profile",
			Headless:   false,
			StartURL:   "https://cad.onshape.com/documents",
			Hosts:      []string{"cad.onshape.com"},
		},
		Widget: WidgetConfig{
			ClassName: "polybrain-assistant",
			AssetBase: "http://localhost:8000/static",
			SettleMs:  300,
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        "~/.polybrain/journal.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Mock: MockConfig{
			Port:        8000,
			StepDelayMs: 1000,
		},
	}
}
