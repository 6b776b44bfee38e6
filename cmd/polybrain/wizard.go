package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"polybrain/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: service → browser → journal → save config",
		Long:  "Asks for the assistant service URL, the CAD tool start page and Chrome mode, and whether to keep an activation journal. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ExpandPath(resolveConfigPath())
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	yesNo := func(def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		ans, err := prompt(d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(ans), "y"), nil
	}

	fmt.Println("\n--- Step 1: Assistant service ---")
	fmt.Fprint(os.Stdout, "Service base URL (use 'polybrain mock-server' for a local stand-in)")
	if cfg.Service.APIBase, err = prompt(cfg.Service.APIBase); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Widget asset base URL")
	if cfg.Widget.AssetBase, err = prompt(cfg.Widget.AssetBase); err != nil {
		return err
	}

	fmt.Println("\n--- Step 2: Browser ---")
	fmt.Fprint(os.Stdout, "Start page")
	if cfg.Browser.StartURL, err = prompt(cfg.Browser.StartURL); err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "Run Chrome headless? (y/n)")
	if cfg.Browser.Headless, err = yesNo(cfg.Browser.Headless); err != nil {
		return err
	}

	fmt.Println("\n--- Step 3: Journal ---")
	fmt.Fprint(os.Stdout, "Record activations in a local journal? (y/n)")
	if cfg.Journal.Enabled, err = yesNo(cfg.Journal.Enabled); err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'polybrain login' once to sign in, then 'polybrain run'.")
	return nil
}
