package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes beyond the generic failure, so process supervisors can
// tell a bad config from a dependency that is down.
const (
	exitBadConfig = 2
	exitAuthBoot  = 3
	exitStoreInit = 4
	exitNetInit   = 5
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guichet",
	Short: "Guichet - Unified gateway over the French business registries",
	Long: `Guichet aggregates the public French business registries (Recherche
d'Entreprises, Sirene, RNE, BODACC, RNA, RGE, API Entreprise) behind
one tool-call surface with shared caching, rate limiting, circuit
breaking and an audit trail.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Guichet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Guichet version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
