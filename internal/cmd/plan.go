package cmd

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which jobs a run would execute",
	Long: `Plan the requested targets without executing anything.

Equivalent to "run --dry-run": jobs are listed in dependency order with
a one-line reason (missing output, input newer than output, rule
definition changed, forced).

Example:
  weft plan --target mapped/a.sam
  weft plan --target report.html --force-all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd, planFlags)
	},
}

var planFlags runOptions

func init() {
	rootCmd.AddCommand(planCmd)
	addRunFlags(planCmd, &planFlags, true)
}
