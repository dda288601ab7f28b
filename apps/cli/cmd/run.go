package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/logging"
	"github.com/abdul-hamid-achik/hitrun/packages/notify"
	"github.com/abdul-hamid-achik/hitrun/packages/session"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the registered test suites",
	Long: `Run every suite registered with session.Register.

Examples:
  hitrun run
  hitrun run --name "*login*" --tags smoke
  hitrun run --shuffle --seed 42 --sequence parallel
  hitrun run -o console,junit --output-dir reports
  hitrun run --history runs.db
  hitrun run --history runs.db --failed`,
	Args: cobra.NoArgs,
	RunE: runCommand,
}

var (
	nameFlag        string
	tagsFlag        string
	verboseFlag     bool
	noColorFlag     bool
	outputFlag      string
	outputDirFlag   string
	bailFlag        int
	timeoutFlag     string
	hookTimeoutFlag string
	concurrencyFlag int
	sequenceFlag    string
	shuffleFlag     bool
	seedFlag        int64
	retryFlag       int
	repeatsFlag     int
	forbidOnlyFlag  bool
	heapFlag        bool
	metricsFlag     string
	failedFlag      bool
	traceFlag       bool

	// Notification flags
	notifyOnFlag     string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
)

func init() {
	// Selection flags
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only tests whose full name matches the pattern (*foo, foo*, *foo*)")
	runCmd.Flags().StringVarP(&tagsFlag, "tags", "t", getEnvString("HITRUN_TAGS", ""), "Run only tests with any of the tags (comma-separated) (env: HITRUN_TAGS)")
	runCmd.Flags().BoolVar(&failedFlag, "failed", false, "Rerun the tests that failed in the last recorded run")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("HITRUN_VERBOSE", false), "Verbose output (env: HITRUN_VERBOSE)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITRUN_NO_COLOR", false), "Disable colored output (env: HITRUN_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITRUN_OUTPUT", ""), "Reporters: console, json, junit, tap (comma-separated) (env: HITRUN_OUTPUT)")
	runCmd.Flags().StringVar(&outputDirFlag, "output-dir", getEnvString("HITRUN_OUTPUT_DIR", ""), "Write each reporter to a file in this directory (env: HITRUN_OUTPUT_DIR)")
	runCmd.Flags().BoolVar(&heapFlag, "log-heap", false, "Record heap usage after every test")

	// Execution flags
	runCmd.Flags().IntVar(&bailFlag, "bail", getEnvInt("HITRUN_BAIL", 0), "Stop after this many failed tests (env: HITRUN_BAIL)")
	runCmd.Flags().StringVar(&timeoutFlag, "timeout", getEnvString("HITRUN_TIMEOUT", ""), "Default test timeout, negative disables (e.g., 5s) (env: HITRUN_TIMEOUT)")
	runCmd.Flags().StringVar(&hookTimeoutFlag, "hook-timeout", getEnvString("HITRUN_HOOK_TIMEOUT", ""), "Default hook timeout, negative disables (env: HITRUN_HOOK_TIMEOUT)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", getEnvInt("HITRUN_CONCURRENCY", 0), "Maximum concurrently running tests (env: HITRUN_CONCURRENCY)")
	runCmd.Flags().StringVar(&sequenceFlag, "sequence", "", "Hook order: stack, list or parallel")
	runCmd.Flags().BoolVar(&shuffleFlag, "shuffle", false, "Shuffle files and tests")
	runCmd.Flags().Int64Var(&seedFlag, "seed", 0, "Seed for --shuffle")
	runCmd.Flags().IntVar(&retryFlag, "retry", 0, "Retry failed tests this many times")
	runCmd.Flags().IntVar(&repeatsFlag, "repeats", 0, "Repeat every test this many extra times")
	runCmd.Flags().BoolVar(&forbidOnlyFlag, "forbid-only", getEnvBool("CI", false), "Fail tests marked only (default on when CI is set)")

	// Export flags
	runCmd.Flags().StringVar(&metricsFlag, "metrics", getEnvString("HITRUN_METRICS", ""), "Serve Prometheus metrics on this address during the run (env: HITRUN_METRICS)")
	runCmd.Flags().BoolVar(&traceFlag, "trace", false, "Export spans to the global OpenTelemetry tracer provider")

	// Notification flags
	runCmd.Flags().StringVar(&notifyOnFlag, "notify-on", getEnvString("HITRUN_NOTIFY_ON", ""), "When to notify: always, failure, success, recovery (env: HITRUN_NOTIFY_ON)")
	runCmd.Flags().StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("HITRUN_SLACK_WEBHOOK", ""), "Slack webhook URL (env: HITRUN_SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&slackChannelFlag, "slack-channel", getEnvString("HITRUN_SLACK_CHANNEL", ""), "Slack channel override (env: HITRUN_SLACK_CHANNEL)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("HITRUN_TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: HITRUN_TEAMS_WEBHOOK)")
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	overrides, err := runOverrides(cmd)
	if err != nil {
		return withCode(ExitUsageError, err)
	}
	cfg = cfg.Merge(overrides)

	logger := logging.Configure(logging.ProfileRuntime)
	if cfg.GetVerbose() {
		logger = logging.SetVerbose()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		Config: cfg,
		Out:    cmd.OutOrStdout(),
		Failed: failedFlag,
		Logger: &logger,
	}
	if traceFlag {
		opts.Tracer = otel.GetTracerProvider()
	}

	res, err := session.Run(ctx, registeredSuites(), opts)
	if errors.Is(err, session.ErrNothingFailed) {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to rerun: the last recorded run had no failures.")
		return nil
	}
	if res == nil && err != nil {
		return withCode(ExitCollectError, err)
	}
	if err != nil {
		return err
	}
	if !res.Summary.Success() {
		return withCode(ExitTestFailure, nil)
	}
	return nil
}

// runOverrides turns the flags that were given into a config that takes
// precedence over the file.
func runOverrides(cmd *cobra.Command) (*config.Config, error) {
	o := &config.Config{
		TestNamePattern: nameFlag,
		Tags:            splitList(tagsFlag),
		Reporters:       splitList(outputFlag),
		OutputDir:       outputDirFlag,
		Bail:            bailFlag,
		MaxConcurrency:  concurrencyFlag,
		Retry:           retryFlag,
		Repeats:         repeatsFlag,
		History:         historyFlag,
		Metrics:         metricsFlag,
		Notify: config.Notify{
			On:           notifyOnFlag,
			SlackWebhook: slackWebhookFlag,
			SlackChannel: slackChannelFlag,
			TeamsWebhook: teamsWebhookFlag,
		},
	}
	o.Sequence.Seed = seedFlag

	var err error
	if o.TestTimeout, err = durationMillis(timeoutFlag); err != nil {
		return nil, fmt.Errorf("--timeout: %w", err)
	}
	if o.HookTimeout, err = durationMillis(hookTimeoutFlag); err != nil {
		return nil, fmt.Errorf("--hook-timeout: %w", err)
	}
	if _, err := notify.ParsePolicy(notifyOnFlag); err != nil {
		return nil, err
	}
	if sequenceFlag != "" {
		if _, err := hooks.ParseSequence(sequenceFlag); err != nil {
			return nil, err
		}
		o.Sequence.Hooks = sequenceFlag
	}

	o.Verbose = flagBool(cmd, "verbose", verboseFlag)
	o.NoColor = flagBool(cmd, "no-color", noColorFlag)
	o.Sequence.Shuffle = flagBool(cmd, "shuffle", shuffleFlag)
	o.LogHeapUsage = flagBool(cmd, "log-heap", heapFlag)
	if forbid := flagBool(cmd, "forbid-only", forbidOnlyFlag); forbid != nil {
		o.AllowOnly = config.BoolPtr(!*forbid)
	}
	return o, nil
}

// flagBool returns nil unless the flag was given or its env default
// turned it on, so the config file keeps the final say otherwise.
func flagBool(cmd *cobra.Command, name string, v bool) *bool {
	if cmd.Flags().Changed(name) || v {
		return config.BoolPtr(v)
	}
	return nil
}

// durationMillis converts a duration flag to config milliseconds. A
// negative duration disables the timeout.
func durationMillis(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return -1, nil
	}
	ms := int(d / time.Millisecond)
	if ms == 0 && d > 0 {
		ms = 1
	}
	return ms, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
