// Package semver checks engine versions against a minimum version requirement.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:requirement"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IsMajorOnly checks if a requirement is a major-only specifier (e.g., "3").
func IsMajorOnly(s string) bool {
	return majorOnlyRegex.MatchString(s)
}

// Requirement is a parsed version requirement: either a major-only
// specifier ("3" accepts any 3.x.y) or a Masterminds constraint
// (">= 1.2.0", "^1.4", "~2.0").
type Requirement struct {
	raw        string
	major      int
	constraint *masterminds.Constraints
}

// ParseRequirement parses s. An empty s yields a nil Requirement that
// accepts every version.
func ParseRequirement(s string) (*Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if IsMajorOnly(s) {
		major, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid major version %q: %w", logPrefix, s, err)
		}
		return &Requirement{raw: s, major: major}, nil
	}
	c, err := masterminds.NewConstraint(s)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version requirement %q: %w", logPrefix, s, err)
	}
	return &Requirement{raw: s, major: -1, constraint: c}, nil
}

// Check returns nil when version satisfies r. A nil Requirement accepts everything.
func (r *Requirement) Check(version string) error {
	if r == nil {
		return nil
	}
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("engine version %q is not a semantic version", version)
	}
	if r.constraint == nil {
		if int(sv.Major()) != r.major {
			return fmt.Errorf("engine version %s does not satisfy major version %d", version, r.major)
		}
		return nil
	}
	if ok, errs := r.constraint.Validate(sv); !ok {
		reason := "unknown reason"
		if len(errs) > 0 {
			reason = errs[0].Error()
		}
		return fmt.Errorf("engine version %s does not satisfy %s: %s", version, r.raw, reason)
	}
	return nil
}

// String returns the requirement as written.
func (r *Requirement) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}
