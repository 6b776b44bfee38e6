package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"polybrain/internal/config"
	"polybrain/internal/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).Sprint("[PASS]")
	failLabel = color.New(color.FgRed, color.Bold).Sprint("[FAIL]")
	warnLabel = color.New(color.FgYellow, color.Bold).Sprint("[WARN]")
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your polybrain installation",
		Long: `Verifies that the configuration, the journal database, Chrome and the
assistant service are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("polybrain doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'polybrain init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Journal database writable
			if cfg.Journal.Enabled {
				if err := checkDatabase(cfg.Journal.DBPath); err != nil {
					printFail("Journal", err.Error())
					failed++
				} else {
					printPass("Journal", cfg.Journal.DBPath)
					passed++
				}
			} else {
				printWarn("Journal", "disabled, activations are not recorded")
				warned++
			}

			// 4. Chrome available
			if path, err := findChrome(); err != nil {
				printFail("Chrome", err.Error())
				failed++
			} else {
				printPass("Chrome", path)
				passed++
			}

			// 5. Profile directory
			if info, err := os.Stat(cfg.Browser.ProfileDir); err != nil {
				printWarn("Chrome profile", "not created yet; run 'polybrain login' to sign in")
				warned++
			} else if !info.IsDir() {
				printFail("Chrome profile", fmt.Sprintf("not a directory: %s", cfg.Browser.ProfileDir))
				failed++
			} else {
				printPass("Chrome profile", cfg.Browser.ProfileDir)
				passed++
			}

			// 6. Assistant service alive
			if err := checkService(cmd.Context(), cfg); err != nil {
				printFail("Assistant service", err.Error())
				failed++
			} else {
				printPass("Assistant service", cfg.Service.APIBase)
				passed++
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running polybrain.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\npolybrain should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! polybrain is ready to run.\n")
			}
			return nil
		},
	}
}

func checkService(parent context.Context, cfg *config.Config) error {
	client, err := session.NewClient(session.Config{
		APIBase: cfg.Service.APIBase,
		WSBase:  cfg.Service.WSBase,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()
	return client.Health(ctx)
}

func findChrome() (string, error) {
	for _, name := range []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium executable found in PATH")
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", passLabel, check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", failLabel, check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", warnLabel, check, detail)
}
