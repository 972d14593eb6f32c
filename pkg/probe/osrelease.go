package probe

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultOSReleasePath is where Linux distributions describe themselves.
const DefaultOSReleasePath = "/etc/os-release"

// OSRelease holds the fields of an os-release file used for platform IDs.
type OSRelease struct {
	ID        string   // e.g. "fedora"
	VersionID string   // e.g. "39" or "8.6"
	IDLike    []string // e.g. ["rhel", "fedora"]
}

// ReadOSRelease parses the os-release file at path.
func ReadOSRelease(path string) (*OSRelease, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rel, err := ParseOSRelease(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rel, nil
}

// ParseOSRelease parses the KEY=value lines of an os-release file. Unknown
// keys are ignored.
func ParseOSRelease(r io.Reader) (*OSRelease, error) {
	env, err := godotenv.Parse(r)
	if err != nil {
		return nil, err
	}
	rel := &OSRelease{
		ID:        strings.ToLower(env["ID"]),
		VersionID: env["VERSION_ID"],
	}
	if like := strings.Fields(strings.ToLower(env["ID_LIKE"])); len(like) > 0 {
		rel.IDLike = like
	}
	return rel, nil
}
