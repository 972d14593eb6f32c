// Package harness provides test harness infrastructure for validating test
// selection against suites under testdata.
package harness

// SystemConfiguration describes one system under test a suite is evaluated
// against.
type SystemConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// RuntimeVersion is the runtime version of the system.
	RuntimeVersion string `yaml:"runtime_version"`

	// Platforms are the platform identifiers the system matches.
	Platforms []string `yaml:"platforms"`

	// ExpectedSelected lists the tests that must be selected to run.
	ExpectedSelected []string `yaml:"expected_selected"`

	// ExpectedSkipped maps skipped tests to the reason they are skipped.
	// Tests not listed are only checked for not being selected.
	ExpectedSkipped map[string]string `yaml:"expected_skipped,omitempty"`

	// ExpectedErrors lists expected error substrings for loading the suite.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`
}
