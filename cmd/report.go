package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/liuxd6825/bidiload/harness"
)

// reporter prints scenario results as they come in.
type reporter struct {
	w io.Writer

	pass, fail, faint *color.Color
}

func newReporter(w io.Writer, colorized bool) *reporter {
	r := &reporter{
		w:     w,
		pass:  color.New(color.FgGreen, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
		faint: color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.pass, r.fail, r.faint} {
		if colorized {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *reporter) header(n int, target string) {
	fprintf(r.w, "running %d scenarios against %s\n\n", n, target)
}

func (r *reporter) result(res harness.Result) {
	status := r.pass.Sprint("PASS")
	if !res.Passed {
		status = r.fail.Sprint("FAIL")
	}
	fprintf(r.w, "%s %s %s\n", status, res.Name, r.faint.Sprintf("(%s)", res.Duration.Round(time.Millisecond)))
	if res.Passed {
		return
	}
	for _, line := range res.Output {
		fprintf(r.w, "    %s\n", line)
	}
}

// summary prints the totals and returns the number of failed scenarios.
func (r *reporter) summary(results []harness.Result, total int) int {
	var passed, failed int
	for _, res := range results {
		if res.Passed {
			passed++
		} else {
			failed++
		}
	}

	fprintf(r.w, "\n%s, %s", r.pass.Sprintf("%d passed", passed), r.fail.Sprintf("%d failed", failed))
	if notRun := total - len(results); notRun > 0 {
		fprintf(r.w, ", %d not run", notRun)
	}
	fprintf(r.w, "\n")
	return failed
}

// fprintf panics when where's an error writing to the supplied io.Writer
func fprintf(w io.Writer, format string, a ...interface{}) (n int) {
	n, err := fmt.Fprintf(w, format, a...)
	if err != nil {
		panic(err.Error())
	}
	return n
}
