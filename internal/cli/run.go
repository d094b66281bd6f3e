package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/paklog/catalog-loadgen/internal/loadgen/config"
	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
	"github.com/paklog/catalog-loadgen/internal/loadgen/export"
	"github.com/paklog/catalog-loadgen/internal/loadgen/output"
	"github.com/paklog/catalog-loadgen/internal/logging"
)

const (
	progressInterval = time.Second
	exportTimeout    = 30 * time.Second
)

var _ export.Source = (*engine.Engine)(nil)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the catalog",
		Long: `Run a load test against the product catalog service.

Preset profile:
  catalog-loadgen run --profile spike --base-url http://catalog:8082

Config file:
  catalog-loadgen run --config loadtest.yaml

Custom stages (duration:target, optionally :step for an instant jump):
  catalog-loadgen run --stages "30s:10,1m:10,10s:200:step,1m:200,30s:0" \
    --threshold "http_req_duration=p(95)<500" \
    --threshold "http_req_failed=rate<0.01"

Exit status is 0 when every threshold passes, 99 when a threshold fails
and 1 on configuration or runtime errors.`,
		SilenceUsage: true,
		RunE:         runLoadTest,
	}

	addConfigFlags(cmd)
	cmd.Flags().StringP("out", "o", "", "Write the result to this file: .html for a report, JSON otherwise (\"-\" for stdout)")
	cmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, print only the verdict")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9464)")
	return cmd
}

// addConfigFlags registers the flags that shape the test configuration.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().StringP("profile", "p", "", "Preset profile: "+strings.Join(config.PresetNames(), ", "))
	cmd.Flags().String("base-url", "", "Catalog base URL (default $BASE_URL or "+config.DefaultBaseURL+")")
	cmd.Flags().String("stages", "", "Custom stages, e.g. '30s:10,1m:10,30s:0'")
	cmd.Flags().StringArray("threshold", nil, "Threshold as metric=expression, repeatable (replaces the preset's)")
	cmd.Flags().Duration("pacing", 0, "Pause between workflow iterations")
	cmd.Flags().Bool("strict-checks", false, "Also validate response bodies against the product schema")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error, silent")
	cmd.Flags().String("log-format", "", "Log format: text or json")
}

// buildConfig layers the configuration: defaults, then the config file,
// then environment variables, then flags.
func buildConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	flags := cmd.Flags()

	cfg := &config.TestConfig{}
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	overrides.Apply(cfg)

	if flags.Changed("profile") {
		cfg.Profile, _ = flags.GetString("profile")
		cfg.Stages = nil
	}
	if flags.Changed("stages") {
		if flags.Changed("profile") {
			return nil, errors.New("--profile and --stages are mutually exclusive")
		}
		raw, _ := flags.GetString("stages")
		stages, err := config.ParseStages(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
		cfg.Profile = ""
	}
	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("threshold") {
		raw, _ := flags.GetStringArray("threshold")
		thresholds, err := parseThresholdFlags(raw)
		if err != nil {
			return nil, err
		}
		cfg.Thresholds = thresholds
	}
	if flags.Changed("pacing") {
		pacing, _ := flags.GetDuration("pacing")
		cfg.Pacing = config.NewDuration(pacing)
	}
	if flags.Changed("strict-checks") {
		cfg.Checks.Strict, _ = flags.GetBool("strict-checks")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}

	// Run-only flags.
	if f := flags.Lookup("out"); f != nil && f.Changed {
		cfg.Output.File = f.Value.String()
	}
	if f := flags.Lookup("quiet"); f != nil && f.Changed {
		cfg.Output.Quiet, _ = flags.GetBool("quiet")
	}
	if f := flags.Lookup("metrics-addr"); f != nil && f.Changed {
		cfg.Output.MetricsAddr = f.Value.String()
	}

	return cfg, nil
}

// parseThresholdFlags turns "metric=expression" pairs into a threshold map.
// The metric is everything before the first '=', so expressions may use
// "<=" and ">=".
func parseThresholdFlags(raw []string) (map[string][]string, error) {
	thresholds := make(map[string][]string)
	for _, r := range raw {
		metric, expr, ok := strings.Cut(r, "=")
		metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return nil, fmt.Errorf("invalid --threshold %q: expected metric=expression", r)
		}
		thresholds[metric] = append(thresholds[metric], expr)
	}
	return thresholds, nil
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	noColor, _ := cmd.Flags().GetBool("no-color")

	config.ApplyDefaults(cfg)
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}

	eng, err := engine.NewEngine(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		TestName:      cfg.Name,
		Profile:       cfg.Profile,
		BaseURL:       cfg.BaseURL,
		TotalDuration: eng.Profile().TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         cfg.Output.Quiet,
		NoColor:       noColor,
	})
	console.PrintHeader()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := execute(ctx, eng, console, logger)
	if err != nil {
		return err
	}

	console.PrintSummary(result)
	publish(cfg, result, logger)

	return result.Err()
}

// execute runs the engine alongside the progress reporter and, when
// configured, the metrics endpoint. Both stop once the run is over.
func execute(ctx context.Context, eng *engine.Engine, console *output.Console, logger logrus.FieldLogger) (*engine.Result, error) {
	cfg := eng.Config()
	runDone := make(chan struct{})

	var server *export.MetricsServer
	if cfg.Output.MetricsAddr != "" {
		var err error
		server, err = export.NewMetricsServer(cfg.Output.MetricsAddr, eng, prometheus.Labels{"test": cfg.Name}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics endpoint: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var result *engine.Result
	g.Go(func() error {
		defer close(runDone)
		r, err := eng.Run(gctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	g.Go(func() error {
		reportProgress(runDone, eng, console)
		return nil
	})

	if server != nil {
		g.Go(func() error {
			serverCtx, cancel := context.WithCancel(gctx)
			defer cancel()
			go func() {
				<-runDone
				cancel()
			}()
			return server.Run(serverCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func reportProgress(done <-chan struct{}, eng *engine.Engine, console *output.Console) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			console.Report(output.StatsFromEngine(eng.Snapshot(), eng.Stats(), eng.Progress()))
		}
	}
}

// publish writes the result file and the InfluxDB export. Failures are
// logged; they do not change the verdict.
func publish(cfg *config.TestConfig, result *engine.Result, logger logrus.FieldLogger) {
	if path := cfg.Output.File; path != "" {
		if err := output.WriteResultFile(path, result); err != nil {
			logger.WithError(err).Error("failed to write result file")
		} else if path != "-" {
			logger.WithField("path", path).Info("result written")
		}
	}

	if cfg.Output.Influx == nil {
		return
	}

	sink, err := export.NewInfluxSink(cfg.Output.Influx, logger)
	if err != nil {
		logger.WithError(err).Error("influx export disabled")
		return
	}
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	if err := sink.WriteResult(ctx, result); err != nil {
		logger.WithError(err).Error("influx export failed")
	}
}
