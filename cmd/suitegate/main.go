// Package main implements the CLI driver for the suitegate conformance test runner.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/suitegate/internal/config"
	"github.com/715d/suitegate/pkg/descriptor"
	"github.com/715d/suitegate/pkg/eligibility"
	"github.com/715d/suitegate/pkg/probe"
	"github.com/715d/suitegate/pkg/runner"
	rtversion "github.com/715d/suitegate/pkg/version"
)

// Flags holds all command-line options. Options that are also in the config
// file only take effect when set explicitly.
type Flags struct {
	ConfigPath     string        // path to suitegate.yaml
	RuntimeVersion string        // overrides the runtime version command
	Platforms      []string      // replaces platform detection
	ExtraPlatforms []string      // added to the platform identifiers
	Parallel       int           // concurrently running tests
	Timeout        time.Duration // default per-test timeout
	Recursive      bool          // search nested directories for tests
	DryRun         bool          // print the selection without running
	Verbose        bool          // enables detailed output and statistics
	JSON           bool          // enables JSON output format
	Profile        bool          // enables CPU and memory profiling
}

const (
	exitTestsFailed = 1
	exitError       = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var flags Flags

func main() {
	rootCmd := newRootCmd()

	// Running tests are killed on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "suitegate [suite-root]",
		Short: "Select and run conformance tests for a runtime",
		Long: `suitegate runs the conformance tests of a suite against the runtime installed
on this system.

Every directory under the suite root that holds a test.json is a test. A test
runs only if it is enabled, its declared version is compatible with the
runtime version, and none of its blacklisted platforms is one the system
currently matches.`,
		Example: `  suitegate ./tests                          # Run the suite with detected settings
  suitegate --runtime-version 8.0.1 ./tests   # Pin the runtime version
  suitegate --dry-run --platform fedora39 .   # Show the selection for a platform
  suitegate --json ./tests > report.json      # JSON report`,
		Args:               cobra.MaximumNArgs(1),
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("suitegate version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.RuntimeVersion, "runtime-version", "", "Runtime version of the system under test (skips the version command)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.Platforms, "platform", nil, "Platform identifier of the system (repeatable, replaces detection)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.ExtraPlatforms, "extra-platform", nil, "Additional platform identifier (repeatable)")
	rootCmd.PersistentFlags().IntVarP(&flags.Parallel, "parallel", "p", runtime.NumCPU(), "Number of tests to run concurrently")
	rootCmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 10*time.Minute, "Default per-test timeout")
	rootCmd.PersistentFlags().BoolVarP(&flags.Recursive, "recursive", "r", false, "Search nested directories for tests")
	rootCmd.PersistentFlags().BoolVar(&flags.DryRun, "dry-run", false, "Print which tests would run without running them")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&flags.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	return rootCmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return errWithCode(err, exitError)
	}

	ctx := cmd.Context()
	slog.Info("discovering tests", "root", cfg.Root, "recursive", cfg.Recursive)
	tests, err := descriptor.Discover(ctx, cfg.Root, descriptor.DiscoverOptions{Recursive: cfg.Recursive})
	if err != nil {
		return errWithCode(fmt.Errorf("discover: %w", err), exitError)
	}
	slog.Info("discovered tests", "num", len(tests))

	system, err := probe.Probe(ctx, probe.Options{
		RuntimeVersion: cfg.Runtime.Version,
		VersionCommand: cfg.Runtime.Command,
		Platforms:      cfg.Platforms.Override,
		ExtraPlatforms: cfg.Platforms.Extra,
	})
	if err != nil {
		return errWithCode(fmt.Errorf("probe: %w", err), exitError)
	}

	r := runner.New(runner.Options{
		Parallel: cfg.Parallel,
		Timeout:  cfg.Timeout,
		Shell:    cfg.Shell,
	})

	if flags.DryRun {
		plan := r.Plan(system, tests)
		return writeOutput(formatPlan(system, plan))
	}

	report, err := r.Run(ctx, system, tests)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if err := writeOutput(formatReport(system, report)); err != nil {
		return err
	}
	if report.Failed() {
		return errWithCode(nil, exitTestsFailed)
	}
	return nil
}

// loadConfig reads the config file and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	fs := cmd.Flags()
	cfg, err := config.Load(flags.ConfigPath, fs.Changed("config"))
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Root = args[0]
	}
	if fs.Changed("runtime-version") {
		cfg.Runtime.Version = flags.RuntimeVersion
	}
	if fs.Changed("platform") {
		cfg.Platforms.Override = flags.Platforms
	}
	if fs.Changed("extra-platform") {
		cfg.Platforms.Extra = append(cfg.Platforms.Extra, flags.ExtraPlatforms...)
	}
	if fs.Changed("parallel") {
		cfg.Parallel = flags.Parallel
	}
	if fs.Changed("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if fs.Changed("recursive") {
		cfg.Recursive = flags.Recursive
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func writeOutput(output string, err error) error {
	if err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	fmt.Print(output)
	return nil
}

type jSystem struct {
	RuntimeVersion string   `json:"runtime_version"`
	Platforms      []string `json:"platforms"`
}

type jPlanEntry struct {
	Name            string              `json:"name"`
	Dir             string              `json:"dir"`
	Target          rtversion.Target    `json:"target"`
	VersionSpecific bool                `json:"version_specific"`
	Verdict         eligibility.Verdict `json:"verdict"`
}

type jOutput struct {
	System    jSystem `json:"system"`
	Plan      any     `json:"plan,omitempty"`
	Report    any     `json:"report,omitempty"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
}

func newJSONOutput(system eligibility.SystemUnderTest) jOutput {
	return jOutput{
		System:    jSystem{RuntimeVersion: system.RuntimeVersion.String(), Platforms: sortedPlatforms(system)},
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func marshalOutput(out jOutput) (string, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func formatPlan(system eligibility.SystemUnderTest, plan []runner.Selection) (string, error) {
	if flags.JSON {
		entries := make([]jPlanEntry, 0, len(plan))
		for _, sel := range plan {
			entries = append(entries, jPlanEntry{
				Name:            sel.Test.Name,
				Dir:             sel.Test.Dir,
				Target:          sel.Test.Version,
				VersionSpecific: sel.Test.VersionSpecific,
				Verdict:         sel.Verdict,
			})
		}
		out := newJSONOutput(system)
		out.Plan = entries
		return marshalOutput(out)
	}

	var output strings.Builder
	selected := 0
	for _, sel := range plan {
		if sel.Verdict.Run {
			selected++
			fmt.Fprintf(&output, "RUN   %s\n", sel.Test.Name)
			continue
		}
		fmt.Fprintf(&output, "SKIP  %s (%s)\n", sel.Test.Name, describe(sel.Verdict))
	}
	if flags.Verbose {
		slog.Info("", "runtime_version", system.RuntimeVersion.String(), "platforms", sortedPlatforms(system),
			"total", len(plan), "selected", selected)
	}
	return output.String(), nil
}

func formatReport(system eligibility.SystemUnderTest, report *runner.Report) (string, error) {
	if flags.JSON {
		out := newJSONOutput(system)
		out.Report = report
		return marshalOutput(out)
	}

	var output strings.Builder
	for _, res := range report.Results {
		switch res.Status {
		case runner.StatusPassed:
			fmt.Fprintf(&output, "PASS  %s (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
		case runner.StatusFailed:
			fmt.Fprintf(&output, "FAIL  %s (exit %d)\n", res.Name, res.ExitCode)
		case runner.StatusTimeout:
			fmt.Fprintf(&output, "TIME  %s (%s)\n", res.Name, res.Error)
		case runner.StatusError:
			fmt.Fprintf(&output, "ERROR %s (%s)\n", res.Name, res.Error)
		case runner.StatusSkipped:
			fmt.Fprintf(&output, "SKIP  %s (%s)\n", res.Name, describe(res.Verdict))
		}
		if flags.Verbose && res.Status != runner.StatusPassed && res.Output != "" {
			for line := range strings.Lines(res.Output) {
				output.WriteString("      " + line)
			}
			if !strings.HasSuffix(res.Output, "\n") {
				output.WriteString("\n")
			}
		}
	}

	s := report.Stats
	fmt.Fprintf(&output, "\n%d tests: %d passed, %d failed, %d timed out, %d errored, %d skipped in %s\n",
		s.Total, s.Passed, s.Failed, s.TimedOut, s.Errored, s.Skipped, s.Duration.Round(time.Millisecond))
	return output.String(), nil
}

func describe(v eligibility.Verdict) string {
	if v.Detail == "" {
		return v.Reason.String()
	}
	return v.Reason.String() + ": " + v.Detail
}

func sortedPlatforms(system eligibility.SystemUnderTest) []string {
	if system.CurrentPlatformIDs == nil {
		return nil
	}
	ids := system.CurrentPlatformIDs.ToSlice()
	slices.Sort(ids)
	return ids
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if flags.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if flags.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !flags.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !flags.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}
