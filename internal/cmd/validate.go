package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/batchflow/config"
)

var (
	validatePrint bool
	validateNext  int
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the group definitions",
	Long: `Load the configuration and build every group definition, failing on the
first invalid schedule, unknown time zone, missing handler, or dependency
cycle.

Examples:
  batchflow validate                    # Exit non-zero on invalid definitions
  batchflow validate --print --next 3   # Also print the catalog as YAML`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "Print the resolved catalog as YAML")
	validateCmd.Flags().IntVar(&validateNext, "next", 3, "Upcoming occurrences to print per group")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	l, err := load()
	if err != nil {
		return err
	}
	if !validatePrint {
		zones, err := l.catalog.TimeZones(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d groups in %d time zones\n", len(l.cfg.Groups), len(zones))
		return nil
	}

	out, err := config.Render(cmd.Context(), l.catalog, time.Now(), validateNext)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
