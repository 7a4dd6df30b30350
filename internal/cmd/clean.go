package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/observability"
	"github.com/weftlabs/weft/pkg/artifact"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [flags] <glob>...",
	Short: "Remove built outputs and their provenance records",
	Long: `Remove outputs matching the given glob patterns, along with their
records in the sidecar store.

Protected outputs are refused unless --force is given. With --temp-only,
only outputs flagged temporary are removed.

Example:
  weft clean "mapped/*.sam"
  weft clean --temp-only "**/*"
  weft clean --force results/final.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClean,
}

var (
	cleanFile     string
	cleanTempOnly bool
	cleanForce    bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVarP(&cleanFile, "file", "f", "weftfile.yaml", "Path to workflow file (locates the state directory)")
	cleanCmd.Flags().BoolVar(&cleanTempOnly, "temp-only", false, "Only remove outputs flagged temporary")
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "Remove protected outputs too")
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir, err := resolveStateDir(cleanFile)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}

	store, err := artifact.Open(ctx, artifact.Config{Path: filepath.Join(stateDir, "state.db")})
	if err != nil {
		return exitErr(ExitConfigError, fmt.Errorf("failed to open state store: %w", err))
	}
	defer func() { _ = store.Close() }()

	tracker := artifact.NewTracker(store)

	paths, err := expandCleanGlobs(args)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}

	removed := 0
	for _, path := range paths {
		rec, err := store.Get(ctx, path)
		if err != nil {
			return exitErr(ExitConfigError, err)
		}

		if cleanTempOnly && (rec == nil || !rec.Temp) {
			continue
		}
		if rec != nil && rec.Protected {
			if !cleanForce {
				observability.CLILogger.Warn("Skipping protected output (use --force)",
					zap.String("path", path))
				continue
			}
			if err := tracker.Unprotect(ctx, path); err != nil {
				return exitErr(ExitConfigError, err)
			}
		}

		if err := tracker.Cleanup(ctx, path); err != nil {
			return exitErr(ExitConfigError, err)
		}
		observability.CLILogger.Info("Removed output", zap.String("path", path))
		removed++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d output(s)\n", removed)
	return nil
}

// resolveStateDir reads the workflow file for its state_dir; a missing
// workflow file falls back to the default so clean works standalone.
func resolveStateDir(path string) (string, error) {
	wf, err := loadWorkflow(path)
	if err != nil {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return ".weft", nil
		}
		return "", err
	}
	return wf.Config.StateDir, nil
}

// expandCleanGlobs resolves glob arguments to existing file paths.
func expandCleanGlobs(globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, g := range globs {
		matches, err := doublestar.FilepathGlob(filepath.ToSlash(g))
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", g, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			m = filepath.ToSlash(m)
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
