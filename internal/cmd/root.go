// Package cmd implements the weft command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/internal/observability"
	"github.com/weftlabs/weft/internal/server"
)

// versionInfo holds build-time version metadata, set by SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	server.SetVersion(version)
}

// Exit codes for the weft CLI.
const (
	// ExitOK: all requested targets built or already fresh.
	ExitOK = 0

	// ExitJobFailure: one or more jobs failed or the run was aborted.
	ExitJobFailure = 1

	// ExitConfigError: workflow, graph construction, or configuration
	// error before any job ran.
	ExitConfigError = 2
)

// codedError carries an explicit process exit code up to Execute.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// exitErr wraps err with the exit code the process should terminate with.
func exitErr(code int, err error) error {
	return &codedError{code: code, err: err}
}

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Declarative build-graph runner",
	Long: `weft runs declarative build workflows.

A workflow file (weftfile.yaml) declares rules with wildcard output
patterns; weft resolves requested targets into a job graph, decides
which outputs are stale, and executes the required jobs in dependency
order under a bounded resource pool.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.SetVerbose(rootVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var coded *codedError
		if errors.As(err, &coded) {
			return coded.code
		}
		// Errors without an explicit code are usage or configuration
		// problems surfaced by cobra or flag parsing.
		return ExitConfigError
	}
	return ExitOK
}
