package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "catalog-loadgen",
	Short:   "Load generator for the product catalog service",
	Version: version,
	Long: `catalog-loadgen drives virtual users through the product catalog's
create, read, update, list and delete workflow following a ramp profile
(baseline, spike or stress, or custom stages), checks every response, and
fails the run when a latency or error threshold is breached.`,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors other than failed thresholds are
// printed to stderr; the caller maps the error to an exit code with
// ExitCode.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, engine.ErrThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, engine.ErrThresholdsFailed):
		return ExitThresholdsFailed
	default:
		return ExitError
	}
}

func init() {
	RootCmd.AddCommand(newRunCmd())
	RootCmd.AddCommand(newProfilesCmd())
	RootCmd.AddCommand(newValidateCmd())
}
