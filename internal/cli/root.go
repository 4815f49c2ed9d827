// Package cli implements anomalyctl, the offline companion of the analytics server. It runs
// the same service operations directly against the configured store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

const defaultLookback = 24 * time.Hour

type app struct {
	configPath string
	output     string
	from       string
	to         string
	verbose    bool
	timeout    time.Duration

	// cfg is set once withService has loaded configuration.
	cfg       *config.Config
	now       func() time.Time
	openStore func(ctx context.Context, cfg *config.Config) (store.Store, error)

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the anomalyctl command tree on the process's standard streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		now:       time.Now,
		openStore: service.OpenStore,
		stdin:     in,
		stdout:    out,
		stderr:    errOut,
	}

	cmd := &cobra.Command{
		Use:           "anomalyctl",
		Short:         "Analyze CAN-bus anomaly detections and tune detection thresholds",
		Long:          "anomalyctl imports detection results and runs pattern, accuracy, recommendation and threshold analyses against the configured store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("ANOMALY_CONFIG"), "path to YAML config file")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", outputJSON, "output format: json|yaml")
	cmd.PersistentFlags().StringVar(&a.from, "from", "", "window start (RFC3339), default 24h before --to")
	cmd.PersistentFlags().StringVar(&a.to, "to", "", "window end (RFC3339), default now")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "overall command timeout (0 uses analysis.request_timeout)")

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return validateOutput(a.output)
	}

	cmd.AddCommand(
		newImportCmd(a),
		newPatternsCmd(a),
		newAccuracyCmd(a),
		newRecommendCmd(a),
		newThresholdCmd(a),
	)
	return cmd
}

// withService loads configuration, opens the store and hands fn a ready service.
func (a *app) withService(ctx context.Context, fn func(ctx context.Context, svc service.AnalysisService) error) error {
	mgr := config.NewManager(a.configPath)
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	cfg := mgr.Get(ctx)
	if a.timeout > 0 {
		cfg.Analysis.RequestTimeout = a.timeout
	}
	a.cfg = cfg

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	log, err := logger.NewWithWriter(logger.Config{Level: level, Format: "console"}, a.stderr)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, service.NewAnalysisService(st, cfg, log.Logger))
}

// window resolves --from/--to the same way the REST API resolves its query parameters.
func (a *app) window() (models.TimeWindow, error) {
	end := a.now().UTC()
	if a.to != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(a.to))
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.Add(-defaultLookback)
	if a.from != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(a.from))
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	return models.NewTimeWindow(start, end)
}

// readInput opens a file argument; "-" or no argument reads stdin. An interactive stdin is
// rejected rather than waited on.
func (a *app) readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return nil, errors.New("no input: pass a file or pipe data on stdin")
		}
		return io.ReadAll(a.stdin)
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return b, nil
}
