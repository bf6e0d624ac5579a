package harness

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Scenario is a named conformance check.
type Scenario struct {
	Name string
	Run  func(t T, e *Env)
}

// Result is the outcome of one scenario.
type Result struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Output   []string
}

// Filter returns the scenarios whose name matches expr. An empty expression
// matches everything.
func Filter(scenarios []Scenario, expr string) ([]Scenario, error) {
	if expr == "" {
		return scenarios, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario filter %q: %w", expr, err)
	}
	var out []Scenario
	for _, sc := range scenarios {
		if re.MatchString(sc.Name) {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Run runs the scenarios one after the other, the way go test runs
// subtests, and reports each result to report as soon as it is known.
func (b *Browser) Run(ctx context.Context, scenarios []Scenario, report func(Result)) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		r := b.runOne(sc)
		results = append(results, r)
		if report != nil {
			report(r)
		}
	}
	return results
}

func (b *Browser) runOne(sc Scenario) Result {
	t := &runT{name: sc.Name}
	start := time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.runCleanups()
		defer func() {
			if p := recover(); p != nil {
				t.Errorf("panic: %v", p)
			}
		}()
		sc.Run(t, b.Env(t))
	}()
	<-done

	b.logger.Debugf("harness", "%s finished in %s, failed=%t", sc.Name, time.Since(start), t.Failed())
	return Result{
		Name:     sc.Name,
		Passed:   !t.Failed(),
		Duration: time.Since(start),
		Output:   t.output(),
	}
}

// runT implements T outside of go test.
type runT struct {
	name string

	mu       sync.Mutex
	failed   bool
	lines    []string
	cleanups []func()
}

var _ T = (*runT)(nil)

func (t *runT) Helper() {}

func (t *runT) Name() string { return t.name }

func (t *runT) Logf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func (t *runT) Errorf(format string, args ...interface{}) {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
	t.Logf(format, args...)
}

// FailNow stops the scenario goroutine. Cleanups still run.
func (t *runT) FailNow() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
	runtime.Goexit()
}

func (t *runT) Cleanup(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, fn)
}

func (t *runT) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *runT) runCleanups() {
	for {
		t.mu.Lock()
		n := len(t.cleanups)
		if n == 0 {
			t.mu.Unlock()
			return
		}
		fn := t.cleanups[n-1]
		t.cleanups = t.cleanups[:n-1]
		t.mu.Unlock()

		fn()
	}
}

func (t *runT) output() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
