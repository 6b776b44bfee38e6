package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"polybrain/internal/domain"
	"polybrain/internal/journal"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		document string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent assistant activations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled (set journal.enabled true)")
			}

			store, err := journal.NewSQLiteStore(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var acts []domain.Activation
			if document != "" {
				acts, err = store.ListByDocument(ctx, document, limit)
			} else {
				acts, err = store.List(ctx, limit)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(acts)
			}
			printActivations(acts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&document, "document", "d", "", "only activations of this document id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of activations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printActivations(acts []domain.Activation) {
	if len(acts) == 0 {
		fmt.Println("No activations recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDOCUMENT\tSESSION\tOUTCOME\tDURATION\tMESSAGES\tDETAIL")
	for _, a := range acts {
		sessionID := a.SessionID
		if sessionID == "" {
			sessionID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			a.DocumentID,
			sessionID,
			a.Outcome,
			a.Duration().Round(time.Millisecond),
			a.Messages,
			a.Detail,
		)
	}
	tw.Flush()
}
