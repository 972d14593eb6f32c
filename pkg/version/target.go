package version

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetKind distinguishes the two granularities a test may declare.
type TargetKind int

const (
	// ExactMinor pins a target to "M.N".
	ExactMinor TargetKind = iota

	// MajorOnly pins a target to "M.x", matching any minor.
	MajorOnly
)

// Wildcard is the minor component that marks a MajorOnly target.
const Wildcard = "x"

// Target is the version a test declares applicability for.
type Target struct {
	Kind  TargetKind
	Major uint64
	Minor uint64 // zero for MajorOnly
}

// NewExactMinor returns the target "major.minor".
func NewExactMinor(major, minor uint64) Target {
	return Target{Kind: ExactMinor, Major: major, Minor: minor}
}

// NewMajorOnly returns the target "major.x".
func NewMajorOnly(major uint64) Target {
	return Target{Kind: MajorOnly, Major: major}
}

// ParseTarget parses "M.N" or "M.x". A patch component is never accepted.
func ParseTarget(s string) (Target, error) {
	majorStr, minorStr, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || strings.Contains(minorStr, ".") {
		return Target{}, fmt.Errorf("invalid target version %q: want <major>.<minor> or <major>.x", s)
	}

	major, err := parseComponent(majorStr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target version %q: major: %w", s, err)
	}

	if strings.EqualFold(minorStr, Wildcard) {
		return NewMajorOnly(major), nil
	}

	minor, err := parseComponent(minorStr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target version %q: minor: %w", s, err)
	}
	return NewExactMinor(major, minor), nil
}

// MustParseTarget is like ParseTarget but panics on malformed input.
func MustParseTarget(s string) Target {
	t, err := ParseTarget(s)
	if err != nil {
		panic(err)
	}
	return t
}

// parseComponent accepts only plain decimal digits; signs are rejected.
func parseComponent(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric component %q", s)
		}
	}
	return strconv.ParseUint(s, 10, 64)
}

// IsWildcard reports whether the target matches any minor.
func (t Target) IsWildcard() bool {
	return t.Kind == MajorOnly
}

// Floor returns the lowest runtime version the target admits when used as a
// minimum version.
func (t Target) Floor() Version {
	if t.IsWildcard() {
		return Version{Major: t.Major}
	}
	return Version{Major: t.Major, Minor: t.Minor}
}

// Matches reports whether v falls inside the pinned target. Patch is ignored.
func (t Target) Matches(v Version) bool {
	if v.Major != t.Major {
		return false
	}
	return t.IsWildcard() || v.Minor == t.Minor
}

// String renders the target in its declared form.
func (t Target) String() string {
	if t.IsWildcard() {
		return fmt.Sprintf("%d.%s", t.Major, Wildcard)
	}
	return fmt.Sprintf("%d.%d", t.Major, t.Minor)
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(b []byte) error {
	parsed, err := ParseTarget(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
