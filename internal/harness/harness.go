package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/suitegate/pkg/descriptor"
	"github.com/715d/suitegate/pkg/probe"
	"github.com/715d/suitegate/pkg/runner"
)

// TestCase represents a single suite scenario.
type TestCase struct {
	// Dir is the suite directory relative to the testdata root.
	Dir string `yaml:"-"`

	// Recursive discovers nested test directories.
	Recursive bool `yaml:"recursive,omitempty"`

	// Systems defines the systems the suite is evaluated against.
	Systems []SystemConfiguration `yaml:"systems"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root   string
	runner *runner.Runner
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{
		root:   root,
		runner: runner.New(runner.Options{}),
	}
}

// Run evaluates a suite against all of its system configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Systems, "test case has no system configurations")

	var results []ConfigurationResult
	var allSuccess = true

	for _, cfg := range tc.Systems {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Systems))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Systems), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration plans the suite for a single system configuration.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg SystemConfiguration) *ConfigurationResult {
	t.Helper()

	tests, err := descriptor.Discover(t.Context(), filepath.Join(h.root, tc.Dir), descriptor.DiscoverOptions{
		Recursive: tc.Recursive,
	})
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Success:       false,
			Message:       "Expected a load error, got none",
			Details:       cfg.ExpectedErrors,
		}
	}

	require.NotEmpty(t, cfg.Platforms, "[%s] platforms must be listed; detection is not used", cfg.Name)
	system, err := probe.Probe(t.Context(), probe.Options{
		RuntimeVersion: cfg.RuntimeVersion,
		Platforms:      cfg.Platforms,
	})
	require.NoError(t, err)

	return h.validateConfigurationResults(cfg, h.runner.Plan(system, tests))
}

// validateConfigurationResults compares the plan with the expected selection.
func (h *TestHarness) validateConfigurationResults(cfg SystemConfiguration, plan []runner.Selection) *ConfigurationResult {
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Plan:          plan,
	}

	var selected []string
	skipped := make(map[string]string)
	for _, sel := range plan {
		if sel.Verdict.Run {
			selected = append(selected, sel.Test.Name)
		} else {
			skipped[sel.Test.Name] = sel.Verdict.Reason.String()
		}
	}

	validateResults(&cfgResult, cfg, selected, skipped)
	return &cfgResult
}

// ConfigurationResult represents the result of running a single system configuration.
type ConfigurationResult struct {
	// Configuration is the system configuration that was run.
	Configuration SystemConfiguration

	// Plan is the raw selection.
	Plan []runner.Selection

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each system configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

func validateResults(cfgResult *ConfigurationResult, cfg SystemConfiguration, selected []string, skipped map[string]string) {
	expectedSet := make(map[string]struct{}, len(cfg.ExpectedSelected))
	for _, name := range cfg.ExpectedSelected {
		expectedSet[name] = struct{}{}
	}
	actualSet := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		actualSet[name] = struct{}{}
	}

	var details []string
	success := true

	var missing []string
	for name := range expectedSet {
		if _, found := actualSet[name]; !found {
			missing = append(missing, fmt.Sprintf("%s (skipped: %s)", name, skipped[name]))
			success = false
		}
	}

	var unexpected []string
	for name := range actualSet {
		if _, found := expectedSet[name]; !found {
			unexpected = append(unexpected, name)
			success = false
		}
	}

	sort.Strings(missing)
	sort.Strings(unexpected)

	for _, m := range missing {
		details = append(details, "Should have been selected: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should have been skipped: "+u)
	}

	var reasonNames []string
	for name := range cfg.ExpectedSkipped {
		reasonNames = append(reasonNames, name)
	}
	sort.Strings(reasonNames)
	for _, name := range reasonNames {
		want := cfg.ExpectedSkipped[name]
		if got, ok := skipped[name]; !ok || got != want {
			details = append(details, fmt.Sprintf(
				"Skip reason mismatch for %s: expected %q, got %q", name, want, got))
			success = false
		}
	}

	var message string
	if success {
		message = fmt.Sprintf("All %d expected tests selected", len(cfg.ExpectedSelected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}
