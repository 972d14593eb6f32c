package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Version
		wantErr  bool
	}{
		{input: "2", expected: Version{Major: 2}},
		{input: "2.1", expected: Version{Major: 2, Minor: 1}},
		{input: "2.1.0", expected: Version{Major: 2, Minor: 1}},
		{input: "2.1.99", expected: Version{Major: 2, Minor: 1, Patch: 99}},
		{input: "v3.0.1", expected: Version{Major: 3, Patch: 1}},
		{input: " 8.0.100 ", expected: Version{Major: 8, Patch: 100}},
		{input: "8.0.100-preview.7", expected: Version{Major: 8, Patch: 100, Prerelease: "preview.7"}},
		{input: "6.0.1+build.5", expected: Version{Major: 6, Patch: 1}},
		{input: "", wantErr: true},
		{input: "x", wantErr: true},
		{input: "2.x", wantErr: true},
		{input: "02.1", wantErr: true},
		{input: "2.1.0.0", wantErr: true},
		{input: "-1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestVersion_String(t *testing.T) {
	require.Equal(t, "2.1.0", MustParse("2.1").String())
	require.Equal(t, "8.0.100-rc.1", MustParse("8.0.100-rc.1").String())
}

func TestVersion_CompareMinor(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"2.1.0", "2.1.99", 0},
		{"2.1.99", "2.2", -1},
		{"2.2", "2.1.99", 1},
		{"3.0", "2.9", 1},
		{"1.9", "2.0", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			require.Equal(t, tt.expected, MustParse(tt.a).CompareMinor(MustParse(tt.b)))
		})
	}
}
