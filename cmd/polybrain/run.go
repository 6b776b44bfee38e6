package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"polybrain/internal/browser"
	"polybrain/internal/bus"
	"polybrain/internal/config"
	"polybrain/internal/controller"
	"polybrain/internal/domain"
	"polybrain/internal/icon"
	"polybrain/internal/journal"
	"polybrain/internal/metrics"
	"polybrain/internal/mockserver"
	"polybrain/internal/session"

	"github.com/spf13/cobra"
)

// stack is the shared wiring of run and simulate.
type stack struct {
	client  *session.Client
	journal *journal.SQLiteStore // nil when disabled
	events  *bus.EventBus
	metrics *metrics.Collector
}

func newStack(ctx context.Context, cfg *config.Config, apiBase, wsBase string) (*stack, error) {
	client, err := session.NewClient(session.Config{
		APIBase:    apiBase,
		WSBase:     wsBase,
		Timeout:    cfg.Service.Timeout(),
		Retries:    cfg.Service.Retries,
		EndOnClose: cfg.Service.EndOnClose,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	s := &stack{
		client:  client,
		events:  bus.NewEventBus(0, logger),
		metrics: metrics.NewCollector(),
	}
	metrics.NewWidgetMetrics(s.metrics).Attach(s.events)

	if cfg.Journal.Enabled {
		store, err := journal.NewSQLiteStore(cfg.Journal.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		if n, err := store.Prune(ctx, cfg.Journal.Retention()); err != nil {
			logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			logger.Info("journal pruned", "removed", n)
		}
		s.journal = store
	}
	return s, nil
}

func (s *stack) close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func (s *stack) activationStore() domain.ActivationStore {
	if s.journal == nil {
		return nil
	}
	return s.journal
}

// serveMetrics exposes /metrics until ctx is done.
func (s *stack) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
}

func controllerConfig(cfg *config.Config, s *stack) controller.Config {
	return controller.Config{
		Sessions:    s.client,
		Journal:     s.activationStore(),
		Events:      s.events,
		Hosts:       cfg.Browser.Hosts,
		ClassName:   cfg.Widget.ClassName,
		Assets:      icon.DefaultAssets(cfg.Widget.AssetBase),
		SettleDelay: cfg.Widget.SettleDelay(),
		Logger:      logger,
	}
}

func runCmd() *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the CAD tool in Chrome and run the assistant widget",
		Long:  "Starts Chrome with the polybrain profile, watches the tab and mounts the widget on document pages. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}
			setupLogger(cfg)

			ctx, stop := signalContext()
			defer stop()

			s, err := newStack(ctx, cfg, cfg.Service.APIBase, cfg.Service.WSBase)
			if err != nil {
				return err
			}
			defer s.close()
			if cfg.Metrics.Enabled {
				s.serveMetrics(ctx, cfg.Metrics.Addr)
			}

			healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := s.client.Health(healthCtx); err != nil {
				logger.Warn("assistant service not reachable yet", "api", s.client.APIBase(), "err", err)
			}
			cancel()

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Headless:   cfg.Browser.Headless,
				Logger:     logger,
			})
			tab, err := bridge.Open(ctx, cfg.Browser.StartURL)
			if err != nil {
				return fmt.Errorf("open browser: %w", err)
			}
			defer tab.Close()

			ccfg := controllerConfig(cfg, s)
			ccfg.Navigation, ccfg.Clicks, ccfg.Surface = tab, tab, tab
			ctrl := controller.New(ccfg)

			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()
			go func() {
				select {
				case <-tab.Done():
					logger.Info("browser closed")
					cancelRun()
				case <-runCtx.Done():
				}
			}()

			logger.Info("assistant running. Press Ctrl+C to stop.", "start", cfg.Browser.StartURL)
			if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	return cmd
}

func mockServerCmd() *cobra.Command {
	var port int
	var delay time.Duration
	var hold bool
	var scriptPath string
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a local stand-in for the assistant service",
		Long:  "Serves /session/create, /session/end and /ws with a scripted listen/think/answer turn after each BEGIN.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)
			if !cmd.Flags().Changed("port") {
				port = cfg.Mock.Port
			}
			if !cmd.Flags().Changed("delay") {
				delay = cfg.Mock.StepDelay()
			}
			if !cmd.Flags().Changed("hold") {
				hold = cfg.Mock.Hold
			}
			if scriptPath == "" {
				scriptPath = cfg.Mock.ScriptFile
			}
			script := mockserver.DefaultScript(delay)
			if scriptPath != "" {
				if script, err = mockserver.LoadScript(scriptPath, delay); err != nil {
					return err
				}
				logger.Info("loaded mock script", "path", scriptPath, "steps", len(script))
			}

			ctx, stop := signalContext()
			defer stop()

			srv := mockserver.New(mockserver.Config{
				Addr:   fmt.Sprintf(":%d", port),
				Script: script,
				Hold:   hold,
				Logger: logger,
			})
			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "listen port")
	cmd.Flags().DurationVar(&delay, "delay", time.Second, "pause before each scripted message")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the channel open after the script")
	cmd.Flags().StringVar(&scriptPath, "script", "", "YAML file with the messages to play after BEGIN")
	return cmd
}

// scriptedTab feeds the controller a fixed navigation and click sequence.
type scriptedTab struct {
	urls   chan string
	clicks chan struct{}
}

func (t *scriptedTab) URLs() <-chan string     { return t.urls }
func (t *scriptedTab) Clicks() <-chan struct{} { return t.clicks }

func simulateCmd() *cobra.Command {
	var delay time.Duration
	var useService bool
	cmd := &cobra.Command{
		Use:   "simulate [document-url]",
		Short: "Run one assistant turn headless against the mock service",
		Long: `Mounts the widget on an in-memory surface, clicks it once and prints every
icon transition until the activation ends. With --service the configured
assistant service is used instead of the built-in mock.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)

			docURL := "https://cad.onshape.com/documents/0123456789abcdef01234567/w/0/e/0"
			if len(args) == 1 {
				docURL = args[0]
			}

			ctx, stop := signalContext()
			defer stop()

			apiBase, wsBase := cfg.Service.APIBase, cfg.Service.WSBase
			if !useService {
				addr, err := startMock(ctx, delay)
				if err != nil {
					return err
				}
				apiBase, wsBase = "http://"+addr, ""
			}

			s, err := newStack(ctx, cfg, apiBase, wsBase)
			if err != nil {
				return err
			}
			defer s.close()

			return simulate(ctx, cfg, s, docURL)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "pause before each scripted mock message")
	cmd.Flags().BoolVar(&useService, "service", false, "use the configured assistant service")
	return cmd
}

func startMock(ctx context.Context, delay time.Duration) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	mock := mockserver.New(mockserver.Config{
		Script: mockserver.DefaultScript(delay),
		Logger: logger,
	})
	srv := &http.Server{Handler: mock.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return ln.Addr().String(), nil
}

func simulate(ctx context.Context, cfg *config.Config, s *stack, docURL string) error {
	tab := &scriptedTab{urls: make(chan string, 1), clicks: make(chan struct{}, 1)}
	surface := newPrintingSurface()

	ccfg := controllerConfig(cfg, s)
	ccfg.Navigation, ccfg.Clicks, ccfg.Surface = tab, tab, surface
	ctrl := controller.New(ccfg)

	finished := make(chan bus.Event, 1)
	s.events.On(bus.EventActivationFinished, func(e bus.Event) {
		select {
		case finished <- e:
		default:
		}
	})
	s.events.On(bus.EventIconTransition, func(e bus.Event) {
		fmt.Printf("  icon     %v -> %v\n", e.Payload["from"], e.Payload["to"])
	})
	mounted := make(chan struct{}, 1)
	s.events.On(bus.EventWidgetMounted, func(bus.Event) {
		select {
		case mounted <- struct{}{}:
		default:
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()

	fmt.Printf("navigate %s\n", docURL)
	tab.urls <- docURL
	select {
	case <-mounted:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("widget did not mount; is %s a document page on %v?", docURL, cfg.Browser.Hosts)
	}

	fmt.Println("click")
	tab.clicks <- struct{}{}

	select {
	case e := <-finished:
		fmt.Printf("finished outcome=%v duration=%v\n", e.Payload["outcome"], e.Payload["duration"])
	case <-ctx.Done():
	}
	cancel()
	<-done
	fmt.Printf("surface  %d operations\n", surface.count())
	return nil
}
