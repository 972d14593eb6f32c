// Package runner selects and executes conformance tests against a system
// under test.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/715d/suitegate/pkg/descriptor"
	"github.com/715d/suitegate/pkg/eligibility"
)

// ScriptName is the test body executed for bash tests.
const ScriptName = "test.sh"

// RuntimeVersionEnv carries the runtime version into test scripts.
const RuntimeVersionEnv = "SUITEGATE_RUNTIME_VERSION"

const (
	defaultTimeout = 10 * time.Minute
	defaultShell   = "bash"
)

// Options configures a Runner.
type Options struct {
	// Parallel bounds concurrently running tests. Defaults to NumCPU.
	Parallel int

	// Timeout applies to tests whose descriptor sets none. Defaults to 10m.
	Timeout time.Duration

	// Shell interprets test scripts. Defaults to "bash".
	Shell string
}

// Status is the outcome of one test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Selection pairs a test with its eligibility verdict.
type Selection struct {
	Test    *descriptor.Test
	Verdict eligibility.Verdict
}

// Result is the outcome of a single test.
type Result struct {
	Name     string              `json:"name"`
	Dir      string              `json:"dir"`
	Status   Status              `json:"status"`
	Verdict  eligibility.Verdict `json:"verdict"`
	ExitCode int                 `json:"exit_code,omitempty"`
	Duration time.Duration       `json:"duration"`
	Output   string              `json:"output,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Stats summarizes a report.
type Stats struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	TimedOut int           `json:"timed_out"`
	Skipped  int           `json:"skipped"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a run, ordered by test name.
type Report struct {
	Results []Result `json:"results"`
	Stats   Stats    `json:"stats"`
}

// Failed reports whether any executed test did not pass.
func (r *Report) Failed() bool {
	return r.Stats.Failed > 0 || r.Stats.TimedOut > 0 || r.Stats.Errored > 0
}

// Runner executes tests.
type Runner struct {
	opts Options
}

// New creates a runner, filling in defaults.
func New(opts Options) *Runner {
	if opts.Parallel <= 0 {
		opts.Parallel = goruntime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	return &Runner{opts: opts}
}

// Plan evaluates every test against system. The result keeps the order of
// tests.
func (r *Runner) Plan(system eligibility.SystemUnderTest, tests []*descriptor.Test) []Selection {
	selections := make([]Selection, len(tests))

	var g errgroup.Group
	g.SetLimit(goruntime.NumCPU())
	for idx, t := range tests {
		g.Go(func() error {
			selections[idx] = Selection{Test: t, Verdict: eligibility.Evaluate(system, t.Descriptor())}
			return nil
		})
	}
	_ = g.Wait()
	return selections
}

// Run executes every eligible test and records skipped ones. Test failures
// are reported as results; an error is returned only when ctx ends before
// all tests have started.
func (r *Runner) Run(ctx context.Context, system eligibility.SystemUnderTest, tests []*descriptor.Test) (*Report, error) {
	start := time.Now()
	results := xsync.NewMap[string, Result]()

	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for _, sel := range r.Plan(system, tests) {
		if !sel.Verdict.Run {
			slog.Debug("skipping test", "test", sel.Test.Name, "reason", sel.Verdict.Reason.String(), "detail", sel.Verdict.Detail)
			results.Store(sel.Test.Name, Result{
				Name:    sel.Test.Name,
				Dir:     sel.Test.Dir,
				Status:  StatusSkipped,
				Verdict: sel.Verdict,
			})
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := r.execute(ctx, system, sel)
			results.Store(res.Name, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}

	report := &Report{Results: make([]Result, 0, results.Size())}
	results.Range(func(_ string, res Result) bool {
		report.Results = append(report.Results, res)
		return true
	})
	slices.SortFunc(report.Results, func(a, b Result) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, res := range report.Results {
		report.Stats.Total++
		switch res.Status {
		case StatusPassed:
			report.Stats.Passed++
		case StatusFailed:
			report.Stats.Failed++
		case StatusTimeout:
			report.Stats.TimedOut++
		case StatusSkipped:
			report.Stats.Skipped++
		case StatusError:
			report.Stats.Errored++
		}
	}
	report.Stats.Duration = time.Since(start)
	return report, nil
}

func (r *Runner) execute(ctx context.Context, system eligibility.SystemUnderTest, sel Selection) Result {
	t := sel.Test
	res := Result{Name: t.Name, Dir: t.Dir, Verdict: sel.Verdict}

	if _, err := os.Stat(filepath.Join(t.Dir, ScriptName)); err != nil {
		res.Status = StatusError
		res.Error = fmt.Sprintf("stat %s: %v", ScriptName, err)
		return res
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runtimeVersion := system.RuntimeVersion.String()
	cmd := exec.CommandContext(tctx, r.opts.Shell, ScriptName, runtimeVersion)
	cmd.Dir = t.Dir
	cmd.Env = append(os.Environ(), RuntimeVersionEnv+"="+runtimeVersion)
	cmd.WaitDelay = time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.Info("running test", "test", t.Name, "dir", t.Dir, "timeout", timeout)
	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = output.String()

	var exitErr *exec.ExitError
	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeout
		res.Error = fmt.Sprintf("timed out after %s", timeout)
	case err == nil:
		res.Status = StatusPassed
	case errors.Is(ctx.Err(), context.Canceled):
		res.Status = StatusError
		res.Error = "canceled"
	case errors.As(err, &exitErr):
		res.Status = StatusFailed
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Status = StatusError
		res.Error = err.Error()
	}
	slog.Info("test finished", "test", t.Name, "status", string(res.Status), "dur", res.Duration)
	return res
}
