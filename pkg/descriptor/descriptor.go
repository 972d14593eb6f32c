// Package descriptor loads and validates test.json test descriptors.
package descriptor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kaptinlin/jsonschema"

	"github.com/715d/suitegate/pkg/eligibility"
	"github.com/715d/suitegate/pkg/version"
)

// FileName is the descriptor file that marks a directory as a test.
const FileName = "test.json"

// Type selects how a test body is executed.
type Type string

// TypeBash runs test.sh with the configured shell.
const TypeBash Type = "bash"

//go:embed schema/test.schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	return schema, nil
})

// File is the on-disk form of a test descriptor. Version is parsed while
// decoding.
type File struct {
	Name              string         `json:"name"`
	Enabled           *bool          `json:"enabled,omitempty"`
	Version           version.Target `json:"version"`
	VersionSpecific   bool           `json:"versionSpecific,omitempty"`
	Type              Type           `json:"type,omitempty"`
	TimeoutSeconds    int            `json:"timeoutSeconds,omitempty"`
	PlatformBlacklist []string       `json:"platformBlacklist,omitempty"`
}

// Test is a loaded, validated test case.
type Test struct {
	// Dir is the directory holding the descriptor and the test body.
	Dir string

	Name            string
	Enabled         bool
	VersionSpecific bool
	Version         version.Target
	Type            Type

	// Timeout is zero when the descriptor does not set one.
	Timeout time.Duration

	PlatformBlacklist mapset.Set[string]
}

// Descriptor returns the applicability metadata used for selection.
func (t *Test) Descriptor() eligibility.TestDescriptor {
	return eligibility.TestDescriptor{
		Name:              t.Name,
		Enabled:           t.Enabled,
		VersionSpecific:   t.VersionSpecific,
		Version:           t.Version,
		PlatformBlacklist: t.PlatformBlacklist,
	}
}

// Load reads and validates the descriptor in dir.
func Load(dir string) (*Test, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Dir = dir
	return t, nil
}

// Parse validates data against the descriptor schema and decodes it.
func Parse(data []byte) (*Test, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if result := schema.ValidateJSON(data); !result.IsValid() {
		return nil, fmt.Errorf("schema validation failed: %v", result.Errors)
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	return f.toTest()
}

func (f *File) toTest() (*Test, error) {
	if f.Name == "" {
		return nil, fmt.Errorf("field \"name\": must not be empty")
	}

	t := &Test{
		Name:              f.Name,
		Enabled:           true,
		VersionSpecific:   f.VersionSpecific,
		Version:           f.Version,
		Type:              TypeBash,
		PlatformBlacklist: mapset.NewSet(f.PlatformBlacklist...),
	}
	if f.Enabled != nil {
		t.Enabled = *f.Enabled
	}
	if f.Type != "" {
		t.Type = f.Type
	}
	if f.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(f.TimeoutSeconds) * time.Second
	}
	return t, nil
}
