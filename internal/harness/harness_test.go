package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAll runs all suite scenarios under testdata.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			for _, system := range tc.Systems {
				t.Logf("[%s] runtime %s on %v", system.Name, system.RuntimeVersion, system.Platforms)
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func TestValidateResults(t *testing.T) {
	cfg := SystemConfiguration{
		Name:             "fedora",
		ExpectedSelected: []string{"a", "b"},
		ExpectedSkipped:  map[string]string{"c": "platform blacklisted"},
	}

	var ok ConfigurationResult
	validateResults(&ok, cfg, []string{"b", "a"}, map[string]string{"c": "platform blacklisted"})
	require.True(t, ok.Success, ok.Details)

	var bad ConfigurationResult
	validateResults(&bad, cfg, []string{"a", "c"}, map[string]string{"b": "disabled"})
	require.False(t, bad.Success)
	require.Equal(t, []string{
		"Should have been selected: b (skipped: disabled)",
		"Should have been skipped: c",
		`Skip reason mismatch for c: expected "platform blacklisted", got ""`,
	}, bad.Details)
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ExpectedFile)); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}

	return testCases
}
