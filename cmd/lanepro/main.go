package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/display"
	"github.com/zen-systems/lanepro/pkg/logging"
	"github.com/zen-systems/lanepro/pkg/metrics"
	"github.com/zen-systems/lanepro/pkg/pipeline"
	"github.com/zen-systems/lanepro/pkg/ratelimit"
	"github.com/zen-systems/lanepro/pkg/stage"
)

var (
	configFile  string
	logLevel    string
	adapterFlag string
	modelFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanepro",
		Short: "Four-stage LLM pipeline: architect, strip, work, judge",
		Long: `Lanepro turns a specification into a task plan, implements the plan and
	grades the result against the specification. Every model call goes through
	one global rate limiter and a bounded retry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.lanepro/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var specFile string
	var outDir string
	var metricsAddr string
	var render bool

	cmd := &cobra.Command{
		Use:   "run [specification]",
		Short: "Run the pipeline on a specification",
		Long: `Runs the Architect, Stripper, Worker and Judge stages on a specification.

	The specification is taken from the argument, from --spec, or from stdin.
	Use --adapter and --model to route every stage to one model.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specification, err := readSpecification(args, specFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if outDir != "" {
				cfg.Paths.OutputDir = outDir
			}
			if err := pipeline.ValidateSpecification(specification, cfg.System.InputCharLimit); err != nil {
				return err
			}

			routes, err := resolveRoutes(cfg)
			if err != nil {
				return err
			}
			if err := checkKeys(cfg, routes); err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel)
			reg := prometheus.NewRegistry()
			collectors, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, reg, logger)
				defer stop()
			}

			runner, printer, err := buildRunner(cfg, routes, logger, collectors, render)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := runner.Run(ctx, specification)
			return finishRun(printer, os.Stderr, res, err)
		},
	}

	cmd.Flags().StringVarP(&specFile, "spec", "i", "", "read the specification from a file (- for stdin)")
	cmd.Flags().StringVar(&outDir, "out", "", "write a run report under this directory")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&render, "render", true, "render results as markdown when stdout is a terminal")
	cmd.Flags().StringVar(&adapterFlag, "adapter", "", "route every stage to this adapter")
	cmd.Flags().StringVar(&modelFlag, "model", "", "route every stage to this model or alias")

	return cmd
}

// reportedError marks an error the printer has already shown.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string {
	return e.err.Error()
}

func (e *reportedError) Unwrap() error {
	return e.err
}

// finishRun prints a run's outcome and where its report went. A failed run
// still returns its error so the process exits non-zero.
func finishRun(printer *display.Printer, stderr io.Writer, res *pipeline.Result, runErr error) error {
	if runErr != nil {
		printer.Error(runErr)
	} else if err := printer.Result(res); err != nil {
		return err
	}
	if res != nil && res.ReportDir != "" {
		fmt.Fprintf(stderr, "Run report written to %s\n", res.ReportDir)
	}
	if runErr != nil {
		return &reportedError{err: runErr}
	}
	return nil
}

func buildRunner(
	cfg *config.Config,
	routes map[string]config.RouteTarget,
	logger hclog.Logger,
	collectors *metrics.Collectors,
	render bool,
) (*pipeline.Runner, *display.Printer, error) {
	templates, err := cfg.Templates()
	if err != nil {
		return nil, nil, err
	}
	adapters, err := createAdapters(cfg, routes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	limiter, err := ratelimit.New(cfg.Cooldown(),
		ratelimit.WithLogger(logger.Named("ratelimit")),
		ratelimit.WithWaitObserver(collectors.ObserveWait),
	)
	if err != nil {
		return nil, nil, err
	}

	stages, err := stage.NewSet(templates, routes, adapters, limiter,
		stage.WithTimeout(cfg.CallTimeout()),
		stage.WithLogger(logger.Named("stage")),
	)
	if err != nil {
		return nil, nil, err
	}

	printer := display.NewStdout(render)
	runner, err := pipeline.NewRunner(stages,
		pipeline.WithRetry(cfg.System.MaxRetries, cfg.RetryDelay()),
		pipeline.WithRunCooldown(cfg.Cooldown()),
		pipeline.WithInputLimit(cfg.System.InputCharLimit),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(collectors),
		pipeline.WithReportDir(cfg.Paths.OutputDir),
		pipeline.WithProgress(printer.Milestone),
	)
	if err != nil {
		return nil, nil, err
	}
	return runner, printer, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, templates and stage routing",
		Long:  "Loads the configuration, checks limits, templates and model routing, and reports which stages have an API key.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			routes, err := resolveRoutes(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tADAPTER\tMODEL\tKEY")
			for _, name := range config.StageNames {
				route := routes[name]
				key := "missing"
				if cfg.HasAdapter(route.Adapter) {
					key = "ok"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, route.Adapter, displayModel(route.Model), key)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := checkKeys(cfg, routes); err != nil {
				return err
			}
			fmt.Println("Configuration is valid.")
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

	Use --resolve to show aliases and what they resolve to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			aliases, err := config.LoadAliasesFrom(cfg.ConfigDir)
			if err != nil {
				return err
			}

			if resolveFlag {
				return showAliases(os.Stdout, aliases)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")
			for _, provider := range listProviders(aliases) {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, formatList(aliases.GetProviderModels(provider)), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases(out io.Writer, aliases *config.ModelAliases) error {
	all := aliases.ListAliases()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, all[name])
	}
	return w.Flush()
}

// listProviders merges the providers named in the alias file with every
// adapter that can be configured, since providers without a model list
// accept any model.
func listProviders(aliases *config.ModelAliases) []string {
	providers := aliases.ListProviders()
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		seen[p] = true
	}
	for p := range apiKeyEnv {
		if !seen[p] {
			providers = append(providers, p)
		}
	}
	sort.Strings(providers)
	return providers
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(any)"
	}
	return strings.Join(items, ", ")
}

func displayModel(model string) string {
	if model == "" {
		return "(adapter default)"
	}
	return model
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if adapterFlag != "" || modelFlag != "" {
		override := cfg.Stages.Default
		if adapterFlag != "" && adapterFlag != override.Adapter {
			override = config.RouteTarget{Adapter: adapterFlag}
		}
		if modelFlag != "" {
			override.Model = modelFlag
		}
		cfg.Stages = config.StagesConfig{Default: override}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveRoutes(cfg *config.Config) (map[string]config.RouteTarget, error) {
	aliases, err := config.LoadAliasesFrom(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	return aliases.ResolveStages(cfg.Stages)
}

// readSpecification takes the specification from the argument, the --spec
// file, or stdin, in that order.
func readSpecification(args []string, specFile string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		if specFile != "" {
			return "", errors.New("pass the specification as an argument or with --spec, not both")
		}
		return args[0], nil
	}

	var data []byte
	var err error
	switch specFile {
	case "", "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(specFile)
	}
	if err != nil {
		return "", fmt.Errorf("read specification: %w", err)
	}
	return string(data), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger hclog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
