package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paklog/catalog-loadgen/internal/loadgen/config"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the preset load profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return printProfiles(cmd.OutOrStdout(), verbose)
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "Show every stage")
	return cmd
}

func printProfiles(out io.Writer, verbose bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDURATION\tMAX VUS\tTHRESHOLDS\tDESCRIPTION")

	for _, name := range config.PresetNames() {
		preset, err := config.LookupPreset(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			preset.Name,
			preset.Profile.TotalDuration(),
			preset.Profile.MaxTarget(),
			formatThresholds(preset.Thresholds),
			preset.Description)

		if !verbose {
			continue
		}
		for i, stage := range preset.Profile.Stages {
			label := stage.Name
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(w, "  %d. %s\t%s\t%d\t\t\n", i+1, label, stage.Duration, stage.Target)
		}
	}
	return w.Flush()
}
