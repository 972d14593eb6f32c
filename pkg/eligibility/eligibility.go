// Package eligibility decides whether a declared conformance test must run
// against a system under test.
package eligibility

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/715d/suitegate/pkg/version"
)

// SystemUnderTest describes the runtime instance being validated.
type SystemUnderTest struct {
	// RuntimeVersion is the concrete version of the runtime.
	RuntimeVersion version.Version

	// CurrentPlatformIDs holds every platform identifier the system matches,
	// e.g. both "fedora" and "fedora39". A nil set is treated as empty.
	CurrentPlatformIDs mapset.Set[string]
}

// TestDescriptor is the applicability metadata a test declares.
type TestDescriptor struct {
	// Name identifies the test in verdict details.
	Name string

	// Enabled false skips the test unconditionally.
	Enabled bool

	// VersionSpecific pins the test to Version instead of treating Version
	// as a minimum.
	VersionSpecific bool

	// Version is the declared target, parsed at load time.
	Version version.Target

	// PlatformBlacklist lists platform identifiers the test must not run on.
	// A nil set is treated as empty.
	PlatformBlacklist mapset.Set[string]
}

// Reason classifies a verdict.
type Reason int

const (
	ReasonEligible Reason = iota
	ReasonDisabled
	ReasonVersionBelowFloor
	ReasonVersionMismatch
	ReasonPlatformBlacklisted
)

func (r Reason) String() string {
	switch r {
	case ReasonEligible:
		return "eligible"
	case ReasonDisabled:
		return "disabled"
	case ReasonVersionBelowFloor:
		return "version below floor"
	case ReasonVersionMismatch:
		return "version mismatch"
	case ReasonPlatformBlacklisted:
		return "platform blacklisted"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Verdict is the outcome of evaluating one (system, test) pair.
type Verdict struct {
	Run    bool   `json:"run"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ShouldRunTest reports whether test must run on system. The test must be
// enabled, version compatible and not blacklisted on any current platform.
func ShouldRunTest(system SystemUnderTest, test TestDescriptor) bool {
	return test.Enabled &&
		versionCompatible(system.RuntimeVersion, test) &&
		!platformExcluded(system.CurrentPlatformIDs, test.PlatformBlacklist)
}

// Evaluate makes the same decision as ShouldRunTest and explains it.
func Evaluate(system SystemUnderTest, test TestDescriptor) Verdict {
	if !test.Enabled {
		return Verdict{Reason: ReasonDisabled}
	}

	if !versionCompatible(system.RuntimeVersion, test) {
		if test.VersionSpecific {
			return Verdict{
				Reason: ReasonVersionMismatch,
				Detail: fmt.Sprintf("runtime %s does not match %s", system.RuntimeVersion, test.Version),
			}
		}
		return Verdict{
			Reason: ReasonVersionBelowFloor,
			Detail: fmt.Sprintf("runtime %s is older than %s", system.RuntimeVersion, test.Version),
		}
	}

	if matched := excludedPlatforms(system.CurrentPlatformIDs, test.PlatformBlacklist); len(matched) > 0 {
		return Verdict{
			Reason: ReasonPlatformBlacklisted,
			Detail: "blacklisted on " + strings.Join(matched, ", "),
		}
	}

	return Verdict{Run: true, Reason: ReasonEligible}
}

// versionCompatible applies the floor rule, or the pinned rule for
// version-specific tests. Patch never takes part in either.
func versionCompatible(runtime version.Version, test TestDescriptor) bool {
	if test.VersionSpecific {
		return test.Version.Matches(runtime)
	}
	return runtime.CompareMinor(test.Version.Floor()) >= 0
}

// platformExcluded reports whether the two sets share an identifier.
func platformExcluded(current, blacklist mapset.Set[string]) bool {
	if current == nil || blacklist == nil {
		return false
	}
	excluded := false
	blacklist.Each(func(id string) bool {
		excluded = current.Contains(id)
		return excluded
	})
	return excluded
}

// excludedPlatforms returns the sorted intersection of the two sets.
func excludedPlatforms(current, blacklist mapset.Set[string]) []string {
	if current == nil || blacklist == nil {
		return nil
	}
	var matched []string
	blacklist.Each(func(id string) bool {
		if current.Contains(id) {
			matched = append(matched, id)
		}
		return false
	})
	slices.Sort(matched)
	return matched
}
