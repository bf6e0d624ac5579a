package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferStringer interface {
	io.ReadWriter
	String() string
}

type globalTestState struct {
	*globalState
	cancel func()

	stdOut, stdErr bufferStringer
	loggerHook     *logHook

	cwd string

	expectedExitCode int
}

// A thread-safe buffer implementation.
type safeBuffer struct {
	b bytes.Buffer
	m sync.RWMutex
}

func (b *safeBuffer) Read(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Read(p)
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Write(p)
}

func (b *safeBuffer) String() string {
	b.m.RLock()
	defer b.m.RUnlock()
	return b.b.String()
}

// logHook keeps every log entry in memory.
type logHook struct {
	mu      sync.Mutex
	entries []logrus.Entry
}

func (h *logHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *logHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *e)
	return nil
}

func (h *logHook) contains(level logrus.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func newGlobalTestState(t *testing.T, args ...string) *globalTestState {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	require.NoError(t, fs.MkdirAll(cwd, 0o755))

	ts := &globalTestState{
		cwd:        cwd,
		cancel:     cancel,
		stdOut:     &safeBuffer{},
		stdErr:     &safeBuffer{},
		loggerHook: &logHook{},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(ts.stdErr)
	logger.AddHook(ts.loggerHook)

	osExitCalled := false
	defaultOsExitHandle := func(exitCode int) {
		cancel()
		osExitCalled = true
		assert.Equal(t, ts.expectedExitCode, exitCode)
	}

	t.Cleanup(func() {
		if ts.expectedExitCode > 0 {
			// Ensure that, if we expected to receive an error, our `os.Exit()` mock
			// function was actually called.
			assert.Truef(t, osExitCalled, "expected exit code %d, but the os.Exit() mock was not called", ts.expectedExitCode)
		}
	})

	outMutex := &sync.Mutex{}
	defaultFlags := getDefaultFlags()
	ts.globalState = &globalState{
		ctx:            ctx,
		fs:             fs,
		getwd:          func() (string, error) { return ts.cwd, nil },
		args:           append([]string{"bidiload"}, args...),
		envVars:        map[string]string{},
		defaultFlags:   defaultFlags,
		flags:          defaultFlags,
		outMutex:       outMutex,
		stdOut:         &consoleWriter{ts.stdOut, false, outMutex},
		stdErr:         &consoleWriter{ts.stdErr, false, outMutex},
		stdIn:          &safeBuffer{},
		osExit:         defaultOsExitHandle,
		signalNotify:   func(chan<- os.Signal, ...os.Signal) {},
		signalStop:     func(chan<- os.Signal) {},
		logger:         logger,
		fallbackLogger: logger,
	}
	return ts
}

func TestGetFlags(t *testing.T) {
	t.Parallel()

	flags := getFlags(getDefaultFlags(), map[string]string{
		"BIDI_CONFIG":     "/etc/bidiload.yaml",
		"BIDI_LOG_OUTPUT": "none",
		"BIDI_LOG_FORMAT": "json",
		"NO_COLOR":        "",
	})
	assert.Equal(t, globalFlags{
		configFilePath: "/etc/bidiload.yaml",
		logOutput:      "none",
		logFormat:      "json",
		noColor:        true,
	}, flags)

	assert.Equal(t, getDefaultFlags(), getFlags(getDefaultFlags(), map[string]string{"BIDI_NO_COLOR": ""}))
}

func TestVersion(t *testing.T) {
	ts := newGlobalTestState(t, "version")
	newRootCommand(ts.globalState).execute()

	assert.Equal(t, "bidiload "+versionString()+"\n", ts.stdOut.String())
}

func TestVersionJSON(t *testing.T) {
	ts := newGlobalTestState(t, "version", "--json")
	newRootCommand(ts.globalState).execute()

	assert.Contains(t, ts.stdOut.String(), `"version":"v`+Version+`"`)
	assert.Contains(t, ts.stdOut.String(), `"event":"browsingContext.load"`)
}

func TestUnknownLogOutput(t *testing.T) {
	ts := newGlobalTestState(t, "--log-output", "syslog", "version")
	ts.expectedExitCode = -1
	newRootCommand(ts.globalState).execute()

	assert.True(t, ts.loggerHook.contains(logrus.ErrorLevel, "unsupported log output 'syslog'"))
	assert.Empty(t, ts.stdOut.String())
}

func TestLogOutputFile(t *testing.T) {
	ts := newGlobalTestState(t, "--log-output", "file=bidiload.log", "--verbose", "version")
	newRootCommand(ts.globalState).execute()

	data, err := afero.ReadFile(ts.fs, "/test/bidiload.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "bidiload version: "+versionString())
	assert.NotContains(t, ts.stdErr.String(), "bidiload version")
}

func TestLogFormatJSON(t *testing.T) {
	ts := newGlobalTestState(t, "--log-format", "json", "--verbose", "version")
	newRootCommand(ts.globalState).execute()

	assert.Contains(t, ts.stdErr.String(), `"msg":"Logger format: JSON"`)
}
