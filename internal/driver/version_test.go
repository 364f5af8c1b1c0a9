package driver_test

import (
	"testing"

	"github.com/scottjg/nvidia-armsbc/internal/driver"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input       string
		expectError bool
	}{
		{"580.95.05", false},
		{"535.216.01", false},
		{"580", false},
		{" 580.95.05 ", false},
		{"", true},
		{"   ", true},
		{"580.95.05-1", true},
		{"v580.95.05", true},
		{"580..95", true},
		{"not-a-version", true},
	}

	for _, tt := range tests {
		v, err := driver.Parse(tt.input)
		if tt.expectError {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got version %q", tt.input, v)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tt.input, err)
		}
	}
}

func TestMajor(t *testing.T) {
	tests := []struct {
		version  driver.Version
		expected string
	}{
		{"580.95.05", "580"},
		{"535.216.01", "535"},
		{"580", "580"},
	}

	for _, tt := range tests {
		if got := tt.version.Major(); got != tt.expected {
			t.Errorf("Major(%q): expected %q, got %q", tt.version, tt.expected, got)
		}
	}
}

func TestTagMatchesVersion(t *testing.T) {
	v, err := driver.Parse("580.95.05")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v.Tag() != "580.95.05" {
		t.Errorf("Expected tag 580.95.05, got %q", v.Tag())
	}
}

// FuzzParse checks that Parse never accepts a string whose major segment is
// not purely numeric.
func FuzzParse(f *testing.F) {
	f.Add("580.95.05")
	f.Add("")
	f.Add("580-open")
	f.Add("1:580.95.05")
	f.Add(".580")
	f.Add("580.")

	f.Fuzz(func(t *testing.T, input string) {
		v, err := driver.Parse(input)
		if err != nil {
			return
		}
		major := v.Major()
		if major == "" {
			t.Errorf("Parse(%q) accepted a version with empty major", input)
		}
		for _, r := range major {
			if r < '0' || r > '9' {
				t.Errorf("Parse(%q) accepted non-numeric major %q", input, major)
			}
		}
	})
}
