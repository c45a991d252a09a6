package semver

import (
	"strings"
	"testing"
)

const requirementTestPrefix = "semver:requirement_test"

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3", true},
		{"10", true},
		{"0", true},
		{"3.2.0", false},
		{"^3.2.0", false},
		{"", false},
		{"abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsMajorOnly(tt.input); got != tt.want {
				t.Errorf("%s - IsMajorOnly(%q) = %v, want %v", requirementTestPrefix, tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantNil bool
		wantErr bool
	}{
		{"empty", "", true, false},
		{"blank", "   ", true, false},
		{"major only", "1", false, false},
		{"range", ">= 1.2.0", false, false},
		{"caret", "^1.4", false, false},
		{"garbage", "not a constraint", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRequirement(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s - err = %v, wantErr %v", requirementTestPrefix, err, tt.wantErr)
			}
			if (r == nil) != tt.wantNil {
				t.Errorf("%s - requirement = %v, wantNil %v", requirementTestPrefix, r, tt.wantNil)
			}
		})
	}
}

func TestRequirement_Check(t *testing.T) {
	tests := []struct {
		name        string
		requirement string
		version     string
		wantErr     string
	}{
		{"no requirement", "", "anything", ""},
		{"major-only match", "3", "3.4.2", ""},
		{"major-only no match", "2", "3.4.2", "major version 2"},
		{"caret match", "^3.2.0", "3.4.2", ""},
		{"caret no match", "^3.2.0", "2.1.0", "does not satisfy ^3.2.0"},
		{"minimum match", ">= 1.0.0", "1.0.0", ""},
		{"minimum no match", ">= 1.0.0", "0.9.1", "does not satisfy"},
		{"exact match", "1.0.0", "1.0.0", ""},
		{"not semver", ">= 1.0.0", "forko-dev", "not a semantic version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRequirement(tt.requirement)
			if err != nil {
				t.Fatalf("%s - ParseRequirement: %v", requirementTestPrefix, err)
			}
			err = r.Check(tt.version)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("%s - unexpected error: %v", requirementTestPrefix, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("%s - error = %v, want mention of %q", requirementTestPrefix, err, tt.wantErr)
			}
		})
	}
}

func TestRequirement_String(t *testing.T) {
	var none *Requirement
	if none.String() != "" {
		t.Errorf("%s - nil String() = %q", requirementTestPrefix, none.String())
	}
	r, _ := ParseRequirement(" ^1.2 ")
	if r.String() != "^1.2" {
		t.Errorf("%s - String() = %q", requirementTestPrefix, r.String())
	}
}
