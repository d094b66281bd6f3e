package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/logging"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve and validate a configuration without running it",
		Long: `Resolve the configuration exactly as "run" would (config file, environment,
then flags), validate it, and print the resulting ramp profile and thresholds.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(cfg, engine.WithLogger(logging.Nop()))
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), eng)
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func printPlan(out io.Writer, eng *engine.Engine) {
	cfg := eng.Config()
	profile := eng.Profile()

	fmt.Fprintf(out, "Name:        %s\n", cfg.Name)
	if cfg.Profile != "" {
		fmt.Fprintf(out, "Profile:     %s\n", cfg.Profile)
	}
	fmt.Fprintf(out, "Target:      %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "Duration:    %s\n", profile.TotalDuration())
	fmt.Fprintf(out, "Max VUs:     %d\n", profile.MaxTarget())
	fmt.Fprintf(out, "Pacing:      %s\n", cfg.PacingDuration())
	fmt.Fprintf(out, "Strict:      %t\n", cfg.Checks.Strict)

	fmt.Fprintln(out, "Stages:")
	fmt.Fprint(out, formatStages(profile))

	fmt.Fprintln(out, "Thresholds:")
	for _, t := range eng.Thresholds() {
		fmt.Fprintf(out, "  %s\n", t)
	}
}

func formatStages(profile executor.RampProfile) string {
	var b strings.Builder
	level := profile.StartVUs
	for i, s := range profile.Stages {
		kind := "ramp"
		if s.Step || s.Duration == 0 {
			kind = "step"
		} else if s.Target == level {
			kind = "hold"
		}
		fmt.Fprintf(&b, "  %d. %-5s %4d -> %-4d %-8s", i+1, kind, level, s.Target, s.Duration)
		if s.Name != "" {
			fmt.Fprintf(&b, " %s", s.Name)
		}
		b.WriteString("\n")
		level = s.Target
	}
	return b.String()
}

// formatThresholds renders a threshold map in a stable order.
func formatThresholds(thresholds map[string][]string) string {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		for _, expr := range thresholds[m] {
			parts = append(parts, m+": "+expr)
		}
	}
	return strings.Join(parts, "; ")
}
