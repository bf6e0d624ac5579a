package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/bidiload/harness"
)

// globalFlags contains the values of the flags shared by every sub-command.
type globalFlags struct {
	configFilePath string
	verbose        bool
	noColor        bool
	logOutput      string
	logFormat      string
}

func getDefaultFlags() globalFlags {
	return globalFlags{
		logOutput: "stderr",
	}
}

func getFlags(defaultFlags globalFlags, env map[string]string) globalFlags {
	result := defaultFlags

	if val, ok := env["BIDI_CONFIG"]; ok {
		result.configFilePath = val
	}
	if val, ok := env["BIDI_LOG_OUTPUT"]; ok {
		result.logOutput = val
	}
	if val, ok := env["BIDI_LOG_FORMAT"]; ok {
		result.logFormat = val
	}
	if env["BIDI_NO_COLOR"] != "" {
		result.noColor = true
	}
	// https://no-color.org/ says even an empty value disables colors.
	if _, ok := env["NO_COLOR"]; ok {
		result.noColor = true
	}
	return result
}

// globalState contains the process wide state the commands use instead of
// reaching for os.* directly, so they can be exercised in tests.
type globalState struct {
	ctx context.Context

	fs      afero.Fs
	getwd   func() (string, error)
	args    []string
	envVars map[string]string

	defaultFlags, flags globalFlags

	outMutex       *sync.Mutex
	stdOut, stdErr *consoleWriter
	stdIn          io.Reader

	osExit       func(int)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)

	logger         *logrus.Logger
	fallbackLogger logrus.FieldLogger
}

func newGlobalState(ctx context.Context) *globalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stdoutTTY := !isDumbTerm && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	stderrTTY := !isDumbTerm && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
	outMutex := &sync.Mutex{}
	stdOut := &consoleWriter{colorable.NewColorableStdout(), stdoutTTY, outMutex}
	stdErr := &consoleWriter{colorable.NewColorableStderr(), stderrTTY, outMutex}

	envVars := harness.EnvMap(os.Environ())
	defaultFlags := getDefaultFlags()
	flags := getFlags(defaultFlags, envVars)

	logger := &logrus.Logger{
		Out: stdErr,
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY || flags.noColor,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}

	return &globalState{
		ctx:          ctx,
		fs:           afero.NewOsFs(),
		getwd:        os.Getwd,
		args:         append(make([]string, 0, len(os.Args)), os.Args...),
		envVars:      envVars,
		defaultFlags: defaultFlags,
		flags:        flags,
		outMutex:     outMutex,
		stdOut:       stdOut,
		stdErr:       stdErr,
		stdIn:        os.Stdin,
		osExit:       os.Exit,
		signalNotify: signal.Notify,
		signalStop:   signal.Stop,
		logger:       logger,
		fallbackLogger: &logrus.Logger{
			Out:       stdErr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}

// disableColors strips color escapes from everything written to the console.
func (gs *globalState) disableColors() {
	gs.stdOut.Writer = colorable.NewNonColorable(gs.stdOut.Writer)
	gs.stdErr.Writer = colorable.NewNonColorable(gs.stdErr.Writer)
}

// colorized reports whether the report on stdout should carry colors.
func (gs *globalState) colorized() bool {
	return gs.stdOut.isTTY && !gs.flags.noColor
}

// A writer that syncs writes with a mutex and, if the output is a TTY, clears
// before newlines.
type consoleWriter struct {
	io.Writer
	isTTY bool
	mutex *sync.Mutex
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.isTTY {
		// Erase till the end of line with each new line.
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.mutex.Lock()
	n, err = w.Writer.Write(p)
	w.mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}
