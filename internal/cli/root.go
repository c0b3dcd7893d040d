// Package cli implements the protocolx command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/protocolx/internal/config"
	"github.com/Bidon15/protocolx/internal/metrics"
)

// app carries state shared by every subcommand.
type app struct {
	cfgFile     string
	logLevel    string
	logFormat   string
	metricsFile string
	jsonOut     bool

	out     io.Writer
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewRootCmd builds the protocolx command tree.
func NewRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	cmd := &cobra.Command{
		Use:   "protocolx",
		Short: "Deploy and exercise the ProtocolX cross-chain token distributor",
		Long: `protocolx deploys the ProtocolX DAO token distributor and calculator to
EVM chains connected by Axelar GMP, then runs the cross-chain distribution
and claim sequence against them.

Examples:
  # Deploy to every configured chain
  protocolx deploy --config protocolx.yaml

  # Distribute from Ethereum, calculated on Avalanche
  protocolx execute Ethereum Avalanche`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./protocolx.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	cmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	cmd.AddCommand(newDeployCmd(a))
	cmd.AddCommand(newExecuteCmd(a))
	return cmd
}

// init loads configuration and applies flag overrides.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.TextfilePath = a.metricsFile
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.NewRecorder()
	return nil
}

// finish records the run outcome and flushes metrics when configured.
func (a *app) finish(command string, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.ObserveRun(command, err)

	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if werr := a.metrics.WriteTextfile(path); werr != nil {
		a.logger.Warn("failed to write metrics", slog.String("path", path), slog.String("error", werr.Error()))
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

// newLogger builds a slog logger writing to w.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
