package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/ingest"
	"github.com/opengreffe/guichet/pkg/log"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [JOB]",
	Short: "Run bulk dataset feeds once",
	Long: `Run the named ingest job, or every registered job when no name is
given. Feeds that have not changed since the last load are skipped
unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Bool("force", false, "Reload even when the feed is unchanged")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")

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

	var names []string
	if len(args) == 1 {
		names = args
	} else {
		for _, job := range scheduler.Jobs() {
			names = append(names, job.Name)
		}
	}

	var failed []string
	for _, name := range names {
		result, err := scheduler.RunJob(context.Background(), name, force)
		if err != nil {
			return err
		}
		switch result.Status {
		case ingest.StatusSuccess:
			fmt.Printf("✓ %s: %d rows loaded\n", result.Job, result.Rows)
		case ingest.StatusSkipped:
			fmt.Printf("- %s: feed unchanged, skipped\n", result.Job)
		default:
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", result.Job, result.Error)
			failed = append(failed, result.Job)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d jobs failed: %s", len(failed), len(names), strings.Join(failed, ", "))
	}
	return nil
}
