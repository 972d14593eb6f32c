package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"

	"github.com/715d/suitegate/internal/config"
	"github.com/715d/suitegate/pkg/descriptor"
	"github.com/715d/suitegate/pkg/eligibility"
	"github.com/715d/suitegate/pkg/runner"
	rtversion "github.com/715d/suitegate/pkg/version"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { flags = Flags{} })
}

func TestLoadConfig(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "suitegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`root: suite
parallel: 3
runtime:
  version: "1.0"
platforms:
  extra: [from-file]
`), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--runtime-version", "2.1",
		"--extra-platform", "from-flag",
	}))

	cfg, err := loadConfig(cmd, nil)
	require.NoError(t, err)
	require.Equal(t, "suite", cfg.Root)
	require.Equal(t, 3, cfg.Parallel)
	require.Equal(t, "2.1", cfg.Runtime.Version)
	require.Equal(t, []string{"from-file", "from-flag"}, cfg.Platforms.Extra)

	cfg, err = loadConfig(cmd, []string{"other"})
	require.NoError(t, err)
	require.Equal(t, "other", cfg.Root)
}

func TestLoadConfig_DefaultVersionCommand(t *testing.T) {
	resetFlags(t)
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--dry-run"}))

	cfg, err := loadConfig(cmd, []string{"tests"})
	require.NoError(t, err)
	require.Equal(t, "tests", cfg.Root)
	require.Empty(t, cfg.Runtime.Version)
	require.Equal(t, config.DefaultVersionCommand(), cfg.Runtime.Command)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing explicit config", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, "read config"},
		{"bad parallel without file", []string{"--parallel", "0"}, "invalid settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			t.Chdir(t.TempDir())

			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			_, err := loadConfig(cmd, nil)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func testSystem() eligibility.SystemUnderTest {
	return eligibility.SystemUnderTest{
		RuntimeVersion:     rtversion.MustParse("2.1.3"),
		CurrentPlatformIDs: mapset.NewSet("linux", "fedora", "fedora-x64"),
	}
}

func TestFormatPlan(t *testing.T) {
	resetFlags(t)

	plan := []runner.Selection{
		{Test: &descriptor.Test{Name: "a", Dir: "suite/a", Version: rtversion.NewExactMinor(2, 1)}, Verdict: eligibility.Verdict{Run: true}},
		{Test: &descriptor.Test{Name: "b", Dir: "suite/b", Version: rtversion.NewMajorOnly(2), VersionSpecific: true}, Verdict: eligibility.Verdict{
			Reason: eligibility.ReasonPlatformBlacklisted,
			Detail: "blacklisted on fedora",
		}},
	}

	out, err := formatPlan(testSystem(), plan)
	require.NoError(t, err)
	require.Equal(t, "RUN   a\nSKIP  b (platform blacklisted: blacklisted on fedora)\n", out)

	flags.JSON = true
	out, err = formatPlan(testSystem(), plan)
	require.NoError(t, err)

	var decoded struct {
		System struct {
			RuntimeVersion string   `json:"runtime_version"`
			Platforms      []string `json:"platforms"`
		} `json:"system"`
		Plan []struct {
			Name            string `json:"name"`
			Target          string `json:"target"`
			VersionSpecific bool   `json:"version_specific"`
			Verdict         struct {
				Run    bool   `json:"run"`
				Reason string `json:"reason"`
			} `json:"verdict"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, "2.1.3", decoded.System.RuntimeVersion)
	require.Equal(t, []string{"fedora", "fedora-x64", "linux"}, decoded.System.Platforms)
	require.Len(t, decoded.Plan, 2)
	require.True(t, decoded.Plan[0].Verdict.Run)
	require.Equal(t, "eligible", decoded.Plan[0].Verdict.Reason)
	require.Equal(t, "platform blacklisted", decoded.Plan[1].Verdict.Reason)
	require.Equal(t, "2.1", decoded.Plan[0].Target)
	require.Equal(t, "2.x", decoded.Plan[1].Target)
	require.True(t, decoded.Plan[1].VersionSpecific)
}

func TestFormatReport(t *testing.T) {
	resetFlags(t)

	report := &runner.Report{
		Results: []runner.Result{
			{Name: "a", Status: runner.StatusPassed},
			{Name: "b", Status: runner.StatusFailed, ExitCode: 7, Output: "boom\n"},
			{Name: "c", Status: runner.StatusSkipped, Verdict: eligibility.Verdict{Reason: eligibility.ReasonDisabled}},
		},
		Stats: runner.Stats{Total: 3, Passed: 1, Failed: 1, Skipped: 1},
	}

	out, err := formatReport(testSystem(), report)
	require.NoError(t, err)
	require.Equal(t, "PASS  a (0s)\nFAIL  b (exit 7)\nSKIP  c (disabled)\n"+
		"\n3 tests: 1 passed, 1 failed, 0 timed out, 0 errored, 1 skipped in 0s\n", out)

	flags.Verbose = true
	out, err = formatReport(testSystem(), report)
	require.NoError(t, err)
	require.Contains(t, out, "FAIL  b (exit 7)\n      boom\n")
}

func TestCodedError(t *testing.T) {
	err := errWithCode(os.ErrNotExist, exitError)
	require.ErrorIs(t, err, os.ErrNotExist)

	var cErr *codedError
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, exitError, cErr.code)

	require.Empty(t, errWithCode(nil, exitTestsFailed).Error())
}
