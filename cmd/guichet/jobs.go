package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/ingest"
	"github.com/opengreffe/guichet/pkg/log"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the ingest schedule and the loaded tables",
	RunE:  runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitBadConfig)
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	store, err := analytic.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStoreInit)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	scheduler, err := ingest.New(cfg.Ingest, store, broker)
	if err != nil {
		return fmt.Errorf("failed to build ingest scheduler: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCRON\tTABLE\tLAST STATUS")
	for _, job := range scheduler.Jobs() {
		last := "never run"
		if job.LastResult != nil {
			last = job.LastResult.Status
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", job.Name, job.Cron, job.Table, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	meta, err := store.Metadata(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read table metadata: %w", err)
	}
	if len(meta) == 0 {
		fmt.Println("\nNo tables loaded yet.")
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tLAST UPDATE")
	for _, m := range meta {
		fmt.Fprintf(w, "%s\t%d\t%s\n", m.TableName, m.RecordCount, m.LastUpdate.Format(time.RFC3339))
	}
	return w.Flush()
}
