// Package cmd implements the bidiload command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/bidiload/errext"
	"github.com/liuxd6825/bidiload/log"
)

const waitLoggerCloseTimeout = time.Second * 5

// This is to keep all fields needed for the main/root bidiload command
type rootCommand struct {
	globalState *globalState

	cmd           *cobra.Command
	loggerStopped <-chan struct{}
	loggerIsAsync bool
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{
		globalState: gs,
	}
	// the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:               "bidiload",
		Short:             "a browsingContext.load conformance suite for WebDriver BiDi",
		Long:              "\n" + banner(gs),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}

	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.args[1:])
	rootCmd.SetOut(gs.stdOut)
	rootCmd.SetErr(gs.stdErr)
	rootCmd.SetIn(gs.stdIn)

	rootCmd.AddCommand(
		getCmdRun(gs),
		getCmdSim(gs),
		getCmdVersion(gs),
	)

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	var err error

	c.loggerStopped, err = c.setupLoggers()
	if err != nil {
		return err
	}
	select {
	case <-c.loggerStopped:
	default:
		c.loggerIsAsync = true
	}

	stdlog.SetOutput(c.globalState.logger.Writer())
	c.globalState.logger.Debugf("bidiload version: %s", versionString())
	return nil
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.ctx)
	defer cancel()
	c.globalState.ctx = ctx

	err := c.cmd.Execute()
	if err == nil {
		cancel()
		c.waitLoggerClose()
		return
	}

	exitCode := -1
	if code, ok := errext.ExitCode(err); ok {
		exitCode = int(code)
	}

	errText, fields := errext.Format(err)
	c.globalState.logger.WithFields(fields).Error(errText)
	if c.loggerIsAsync {
		c.globalState.fallbackLogger.WithFields(fields).Error(errText)
	}
	cancel()
	c.waitLoggerClose()

	c.globalState.osExit(exitCode)
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	gs := newGlobalState(context.Background())

	newRootCommand(gs).execute()
}

func (c *rootCommand) waitLoggerClose() {
	if !c.loggerIsAsync {
		return
	}
	select {
	case <-c.loggerStopped:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.fallbackLogger.Errorf("the log file wasn't closed in %s", waitLoggerCloseTimeout)
	}
}

func rootCmdPersistentFlagSet(gs *globalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	// We need to use `gs.flags.<value>` both as the destination and as
	// the value here, since the config values could have already been set by
	// their respective environment variables. However, we then also have to
	// explicitly set the DefValue to the respective default value from
	// `gs.defaultFlags.<value>`, so that the `bidiload --help` message is
	// not messed up...

	flags.StringVar(&gs.flags.logOutput, "log-output", gs.flags.logOutput,
		"change the output for bidiload logs, possible values are stderr,stdout,none,file[=./path.fileformat]")
	flags.Lookup("log-output").DefValue = gs.defaultFlags.logOutput

	flags.StringVar(&gs.flags.logFormat, "log-format", gs.flags.logFormat, "log output format")
	flags.Lookup("log-format").DefValue = gs.defaultFlags.logFormat

	flags.StringVarP(&gs.flags.configFilePath, "config", "c", gs.flags.configFilePath, "YAML config file")
	flags.Lookup("config").DefValue = gs.defaultFlags.configFilePath
	must(cobra.MarkFlagFilename(flags, "config"))

	flags.BoolVar(&gs.flags.noColor, "no-color", gs.flags.noColor, "disable colored output")
	flags.Lookup("no-color").DefValue = fmt.Sprint(gs.defaultFlags.noColor)

	flags.BoolVarP(&gs.flags.verbose, "verbose", "v", gs.defaultFlags.verbose, "enable verbose logging")
	return flags
}

// RawFormatter it does nothing with the message just prints it
type RawFormatter struct{}

// Format renders a single log entry
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// The returned channel will be closed when the logger has finished flushing
// and closing the log file after the global context is done. It is closed
// right away if the logger writes synchronously.
func (c *rootCommand) setupLoggers() (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)

	gs := c.globalState
	if gs.flags.verbose {
		gs.logger.SetLevel(logrus.DebugLevel)
	}
	if gs.flags.noColor {
		gs.disableColors()
	}
	colorLogs := gs.stdErr.isTTY && !gs.flags.noColor

	switch line := gs.flags.logOutput; {
	case line == "stderr":
		gs.logger.SetOutput(gs.stdErr)
	case line == "stdout":
		gs.logger.SetOutput(gs.stdOut)
	case line == "none":
		gs.logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		hook, done, err := log.FileHookFromConfigLine(gs.ctx, gs.fs, gs.getwd, gs.fallbackLogger, line)
		if err != nil {
			return nil, err
		}
		ch = make(chan struct{})
		go func() {
			<-done
			close(ch)
		}()
		gs.logger.AddHook(hook)
		gs.logger.SetOutput(io.Discard)
		colorLogs = false
	default:
		return nil, fmt.Errorf("unsupported log output '%s'", line)
	}

	switch gs.flags.logFormat {
	case "raw":
		gs.logger.SetFormatter(&RawFormatter{})
		gs.logger.Debug("Logger format: RAW")
	case "json":
		gs.logger.SetFormatter(&logrus.JSONFormatter{})
		gs.logger.Debug("Logger format: JSON")
	default:
		gs.logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   colorLogs,
			DisableColors: !colorLogs,
		})
		gs.logger.Debug("Logger format: TEXT")
	}
	return ch, nil
}

func banner(gs *globalState) string {
	b := strings.Join([]string{
		`  _     _     _ _                 _ `,
		` | |__ (_) __| (_) | ___   __ _  __| |`,
		` | '_ \| |/ _' | | |/ _ \ / _' |/ _' |`,
		` | |_) | | (_| | | | (_) | (_| | (_| |`,
		` |_.__/|_|\__,_|_|_|\___/ \__,_|\__,_|`,
	}, "\n")
	if !gs.colorized() {
		return b
	}
	c := color.New(color.FgCyan)
	c.EnableColor()
	return c.Sprint(b)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
