package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"verifai/internal/infra"
	"verifai/internal/pipeline"
	"verifai/internal/scoring"
	"verifai/internal/service"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

type analyzeFlags struct {
	jobID    string
	modelDir string
	timeout  time.Duration
	pretty   bool
	verbose  bool
}

func main() {
	_ = godotenv.Load()

	root := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "verifai",
		Short:        "Estimate whether an image is AI-generated",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)

	var flags analyzeFlags
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file|url>",
		Short: "Analyze one image and print the report JSON",
		Long:  "Runs the full analysis pipeline against a local file or image URL and prints the report. No callback is sent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), args[0], flags)
		},
	}
	f := analyzeCmd.Flags()
	f.StringVar(&flags.jobID, "job-id", "local", "Job id to stamp on the report")
	f.StringVar(&flags.modelDir, "model-dir", "", "Detector bundle directory (overrides MODEL_DIR)")
	f.DurationVar(&flags.timeout, "timeout", 2*time.Minute, "Overall deadline for the analysis")
	f.BoolVar(&flags.pretty, "pretty", false, "Indent the JSON output")
	f.BoolVar(&flags.verbose, "verbose", false, "Log pipeline steps to stderr")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the confidence rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRules(cmd.OutOrStdout())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(analyzeCmd, rulesCmd, serveCmd)
	return root
}

func runAnalyze(ctx context.Context, out io.Writer, target string, flags analyzeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := infra.LoadAnalysisConfig()
	if err != nil {
		return codeError(3, "config: %s", err)
	}
	if flags.modelDir != "" {
		cfg.ModelDir = flags.modelDir
	}

	logger := zerolog.Nop()
	if flags.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	orch, closeModel, err := service.NewPipeline(ctx, cfg, logger, nil, nil)
	if err != nil {
		return codeError(3, "building pipeline: %s", err)
	}
	defer closeModel()

	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	var report any
	if isRemote(target) {
		report, err = orch.Analyze(ctx, pipeline.Job{ID: flags.jobID, ImageURL: target})
	} else {
		data, readErr := os.ReadFile(target)
		if readErr != nil {
			return codeError(2, "reading image: %s", readErr)
		}
		report, err = orch.AnalyzeBytes(ctx, flags.jobID, data)
	}
	if err != nil {
		return codeError(1, "analysis failed: %s", err)
	}

	enc := json.NewEncoder(out)
	if flags.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}

func isRemote(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	for _, prefix := range []string{"http://", "https://", "data:", "s3://", "r2://"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func printRules(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRULE\tTIER")
	for i, rule := range scoring.Rules() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, rule.Name, rule.Tier)
	}
	return tw.Flush()
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return codeError(3, "config: %s", err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return codeError(1, "building service: %s", err)
	}
	return svc.Run(ctx)
}
