package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/errext"
	"github.com/liuxd6825/bidiload/errext/exitcodes"
	"github.com/liuxd6825/bidiload/harness"
	"github.com/liuxd6825/bidiload/lib/types"
	"github.com/liuxd6825/bidiload/log"
	"github.com/liuxd6825/bidiload/scenarios/load"
)

const connectHint = "start the browser with its WebDriver BiDi endpoint enabled, " +
	"or leave --url unset to run against the simulated browser"

// cmdRun handles the `bidiload run` sub-command
type cmdRun struct {
	gs *globalState

	filter string
}

func (c *cmdRun) run(cmd *cobra.Command, _ []string) error {
	cfg, err := c.getConfig(cmd.Flags())
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	scenarios, err := harness.Filter(load.Scenarios(), c.filter)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	if len(scenarios) == 0 {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("no scenario matches %q", c.filter), exitcodes.InvalidConfig)
	}

	logger, err := newCategoryLogger(c.gs, cfg)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	runCtx, runCancel := context.WithCancel(c.gs.ctx)
	defer runCancel()

	interrupted := make(chan struct{})
	sigC := make(chan os.Signal, 2)
	c.gs.signalNotify(sigC, os.Interrupt, syscall.SIGTERM)
	defer c.gs.signalStop(sigC)
	go func() {
		select {
		case sig := <-sigC:
			c.gs.logger.WithField("sig", sig).Debug("Stopping bidiload after the current scenario")
			close(interrupted)
			runCancel()
		case <-runCtx.Done():
		}
	}()

	launchCtx, launchCancel := context.WithTimeout(runCtx, cfg.Timeout.TimeDuration())
	b, err := harness.Launch(launchCtx, cfg, logger)
	timedOut := errors.Is(launchCtx.Err(), context.DeadlineExceeded)
	launchCancel()
	if err != nil {
		code := exitcodes.ConnectionFailed
		if timedOut {
			code = exitcodes.GenericTimeout
			err = fmt.Errorf("no answer within %s: %w", cfg.Timeout.TimeDuration(), err)
		}
		return errext.WithExitCodeIfNone(errext.WithHint(err, connectHint), code)
	}
	defer func() {
		if err := b.Close(); err != nil {
			c.gs.logger.WithError(err).Debug("Closing the browser connection")
		}
	}()

	rep := newReporter(c.gs.stdOut, c.gs.colorized())
	target := b.Session.Connection().URL()
	if b.Simulated() {
		target = "the simulated browser"
	}
	rep.header(len(scenarios), target)

	results := b.Run(runCtx, scenarios, rep.result)
	failed := rep.summary(results, len(scenarios))

	select {
	case <-interrupted:
		return &errext.InterruptError{Reason: errext.AbortRun}
	default:
	}
	if failed > 0 {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("%d of %d scenarios failed", failed, len(results)), exitcodes.ScenariosFailed)
	}
	return nil
}

// getConfig consolidates the defaults, the config file, the environment and
// the command line flags, in that order of precedence.
func (c *cmdRun) getConfig(flags *pflag.FlagSet) (harness.Config, error) {
	cfg, err := harness.GetConsolidatedConfig(c.gs.fs, c.gs.flags.configFilePath, c.gs.envVars)
	if err != nil {
		return cfg, err
	}
	cliConf, err := getConfigFromFlags(flags)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.Apply(cliConf)
	return cfg, cfg.Validate()
}

func getConfigFromFlags(flags *pflag.FlagSet) (harness.Config, error) {
	var conf harness.Config
	if flags.Changed("url") {
		v, err := flags.GetString("url")
		if err != nil {
			return conf, err
		}
		conf.WebSocketURL = null.StringFrom(v)
	}
	if flags.Changed("new-session") {
		v, err := flags.GetBool("new-session")
		if err != nil {
			return conf, err
		}
		conf.NewSession = null.BoolFrom(v)
	}
	for name, dst := range map[string]*types.NullDuration{
		"timeout":          &conf.Timeout,
		"event-timeout":    &conf.EventTimeout,
		"no-event-timeout": &conf.NoEventTimeout,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetDuration(name)
		if err != nil {
			return conf, err
		}
		*dst = types.NullDurationFrom(v)
	}
	if flags.Changed("log-filter") {
		v, err := flags.GetString("log-filter")
		if err != nil {
			return conf, err
		}
		conf.LogFilter = null.StringFrom(v)
	}
	return conf, nil
}

func (c *cmdRun) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	defaults := harness.NewConfig()

	flags.StringP("url", "u", "", "WebDriver BiDi WebSocket endpoint, the simulated browser is used when empty")
	flags.Bool("new-session", false, "send session.new after connecting")
	flags.StringVarP(&c.filter, "run", "r", "", "only run the scenarios whose name matches this regular expression")
	flags.Duration("timeout", defaults.Timeout.TimeDuration(), "timeout of every command")
	flags.Duration("event-timeout", defaults.EventTimeout.TimeDuration(), "how long to wait for an expected event")
	flags.Duration("no-event-timeout", defaults.NoEventTimeout.TimeDuration(),
		"how long to wait before concluding that an event did not fire")
	flags.String("log-filter", "", "only log the categories matching this regular expression")
	return flags
}

func getCmdRun(gs *globalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the conformance scenarios",
		Long: `Run the browsingContext.load conformance scenarios against a browser.

The browser is reached over its WebDriver BiDi WebSocket endpoint. Without
an endpoint the scenarios run against an in-process simulated browser.`,
		Example: `
  # Run every scenario against the simulated browser.
  bidiload run

  # Run the iframe scenarios against a running browser.
  bidiload run --url ws://127.0.0.1:9222/session --run iframe`[1:],
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	runCmd.Flags().SortFlags = false
	runCmd.Flags().AddFlagSet(c.flagSet())

	return runCmd
}

// newCategoryLogger wraps the global logger in the category logger used by
// the BiDi client, the harness and the simulated browser.
func newCategoryLogger(gs *globalState, cfg harness.Config) (*log.Logger, error) {
	logger, err := log.NewFromFilter(gs.logger, cfg.LogFilter.String)
	if err != nil {
		return nil, err
	}
	if gs.flags.verbose {
		return logger, nil
	}
	if err := logger.SetLevel(cfg.LogLevel.String); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel.String, err)
	}
	return logger, nil
}
