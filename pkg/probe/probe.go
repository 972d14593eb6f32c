// Package probe describes the system under test: its runtime version and the
// platform identifiers it matches.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	goruntime "runtime"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/715d/suitegate/pkg/eligibility"
	"github.com/715d/suitegate/pkg/version"
)

// Options configures probing. Zero values fall back to detection.
type Options struct {
	// RuntimeVersion overrides VersionCommand when set.
	RuntimeVersion string

	// VersionCommand prints the runtime version on its first output line,
	// e.g. ["dotnet", "--version"].
	VersionCommand []string

	// Platforms replaces platform detection when non-empty.
	Platforms []string

	// ExtraPlatforms are added to detected or explicit platforms.
	ExtraPlatforms []string

	// OSReleasePath defaults to DefaultOSReleasePath.
	OSReleasePath string

	// GOOS and GOARCH default to the running binary's values.
	GOOS   string
	GOARCH string
}

// Probe builds the SystemUnderTest described by opts.
func Probe(ctx context.Context, opts Options) (eligibility.SystemUnderTest, error) {
	v, err := RuntimeVersion(ctx, opts)
	if err != nil {
		return eligibility.SystemUnderTest{}, err
	}
	ids, err := PlatformIDs(opts)
	if err != nil {
		return eligibility.SystemUnderTest{}, err
	}

	slog.Info("probed system", "runtime_version", v.String(), "platforms", ids)
	return eligibility.SystemUnderTest{
		RuntimeVersion:     v,
		CurrentPlatformIDs: mapset.NewSet(ids...),
	}, nil
}

// RuntimeVersion returns the explicit version or the one printed by the
// version command.
func RuntimeVersion(ctx context.Context, opts Options) (version.Version, error) {
	if opts.RuntimeVersion != "" {
		v, err := version.Parse(opts.RuntimeVersion)
		if err != nil {
			return version.Version{}, fmt.Errorf("runtime version: %w", err)
		}
		return v, nil
	}
	if len(opts.VersionCommand) == 0 {
		return version.Version{}, errors.New("runtime version: neither a version nor a version command is configured")
	}

	cmd := exec.CommandContext(ctx, opts.VersionCommand[0], opts.VersionCommand[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return version.Version{}, fmt.Errorf("%s: %w: %s", cmd.String(), err, strings.TrimSpace(stderr.String()))
	}

	line := firstLine(stdout.String())
	v, err := version.Parse(line)
	if err != nil {
		return version.Version{}, fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return v, nil
}

func firstLine(s string) string {
	for line := range strings.Lines(s) {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// PlatformIDs returns the platform identifiers of the system, sorted and
// without duplicates.
func PlatformIDs(opts Options) ([]string, error) {
	ids := mapset.NewThreadUnsafeSet[string]()
	if len(opts.Platforms) > 0 {
		ids.Append(opts.Platforms...)
	} else {
		detected, err := detectPlatforms(opts)
		if err != nil {
			return nil, err
		}
		ids.Append(detected...)
	}
	ids.Append(opts.ExtraPlatforms...)

	sorted := ids.ToSlice()
	slices.Sort(sorted)
	return sorted, nil
}

func detectPlatforms(opts Options) ([]string, error) {
	goos := opts.GOOS
	if goos == "" {
		goos = goruntime.GOOS
	}
	goarch := opts.GOARCH
	if goarch == "" {
		goarch = goruntime.GOARCH
	}
	arch := ArchName(goarch)

	bases := []string{goos}
	if goos == "linux" {
		path := opts.OSReleasePath
		if path == "" {
			path = DefaultOSReleasePath
		}
		rel, err := ReadOSRelease(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("no os-release file", "path", path)
		case err != nil:
			return nil, fmt.Errorf("detect platforms: %w", err)
		default:
			bases = append(bases, releaseIDs(rel)...)
		}
	}

	ids := make([]string, 0, len(bases)*2)
	for _, base := range bases {
		ids = append(ids, base, base+"-"+arch)
	}
	return ids, nil
}

// releaseIDs returns ID, ID+VERSION_ID, ID+major(VERSION_ID) and ID_LIKE.
func releaseIDs(rel *OSRelease) []string {
	var ids []string
	if rel.ID != "" {
		ids = append(ids, rel.ID)
		if rel.VersionID != "" {
			ids = append(ids, rel.ID+rel.VersionID)
			if major, _, ok := strings.Cut(rel.VersionID, "."); ok {
				ids = append(ids, rel.ID+major)
			}
		}
	}
	return append(ids, rel.IDLike...)
}

// ArchName maps a GOARCH value to the runtime identifier architecture name.
func ArchName(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}
