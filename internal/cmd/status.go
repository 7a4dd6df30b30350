package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/pkg/artifact"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the sidecar store",
	Long: `Print a summary of tracked artifacts and recent runs from the
sidecar store.

Example:
  weft status
  weft status --file pipelines/weftfile.yaml`,
	RunE: runStatus,
}

var statusFile string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFile, "file", "f", "weftfile.yaml", "Path to workflow file (locates the state directory)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	stateDir, err := resolveStateDir(statusFile)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}

	dbPath := filepath.Join(stateDir, "state.db")
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(cmd.OutOrStdout(), "No state recorded yet.")
		return nil
	}

	store, err := artifact.Open(ctx, artifact.Config{Path: dbPath})
	if err != nil {
		return exitErr(ExitConfigError, fmt.Errorf("failed to open state store: %w", err))
	}
	defer func() { _ = store.Close() }()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State store:        %s\n", dbPath)
	fmt.Fprintf(out, "Tracked artifacts:  %d\n", stats.Artifacts)
	fmt.Fprintf(out, "Protected:          %d\n", stats.Protected)
	fmt.Fprintf(out, "Suspect:            %d\n", stats.Suspect)
	fmt.Fprintf(out, "Recorded runs:      %d\n", stats.Runs)
	if stats.LastRunID != "" {
		fmt.Fprintf(out, "Last run:           %s (%s)\n",
			stats.LastRunID, stats.LastRunAt.Format(time.RFC3339))
	}
	return nil
}
