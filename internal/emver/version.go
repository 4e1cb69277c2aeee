// Package emver implements the appliance's state version type: a totally
// ordered MAJOR.MINOR.PATCH version with an optional numeric pre-release
// revision, plus range predicates used for compatibility checks.
package emver

import (
	"fmt"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// Version is a state version value. Without HasPre it is a release, which
// orders after every pre-release of the same MAJOR.MINOR.PATCH. Pre is
// ignored unless HasPre is set. Versions are comparable with ==.
type Version struct {
	Major  uint64
	Minor  uint64
	Patch  uint64
	Pre    uint64
	HasPre bool
}

// ParseError describes why a version or range string was rejected.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

// ErrInvalidVersion is the classified sentinel wrapped around every ParseError.
var ErrInvalidVersion = errors.ValidationError("invalid version").Build()

func parseErr(input, reason string) error {
	return errors.WrapError(&ParseError{Input: input, Reason: reason}, errors.CategoryValidation, ErrInvalidVersion.Message()).
		WithContext("input", input).
		Build()
}

// New returns a release version.
func New(major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// NewPre returns a pre-release version with the given revision.
func NewPre(major, minor, patch, pre uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch, Pre: pre, HasPre: true}
}

// Parse reads MAJOR.MINOR.PATCH or MAJOR.MINOR.PATCH-N. Components are
// decimal without leading zeros, so Parse and String are exact inverses.
func Parse(s string) (Version, error) {
	core, pre, hasPre := strings.Cut(s, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, parseErr(s, fmt.Sprintf("expected 3 dot-separated components, got %d", len(parts)))
	}

	var nums [3]uint64
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, parseErr(s, err.Error())
		}
		nums[i] = n
	}
	v := New(nums[0], nums[1], nums[2])

	if hasPre {
		n, err := parseComponent(pre)
		if err != nil {
			return Version{}, parseErr(s, "malformed pre-release marker: "+err.Error())
		}
		v.Pre, v.HasPre = n, true
	}
	return v, nil
}

// MustParse is Parse for compile-time literals; it panics on malformed input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseComponent(p string) (uint64, error) {
	if p == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric component %q", p)
		}
	}
	if len(p) > 1 && p[0] == '0' {
		return 0, fmt.Errorf("leading zero in component %q", p)
	}
	n, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("component %q out of range", p)
	}
	return n, nil
}

// String formats the version; it is the inverse of Parse.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.HasPre {
		s += "-" + strconv.FormatUint(v.Pre, 10)
	}
	return s
}

// IsPrerelease reports whether v carries a pre-release revision.
func (v Version) IsPrerelease() bool {
	return v.HasPre
}

// Compare returns -1, 0 or 1 when a is less than, equal to or greater than b.
func Compare(a, b Version) int {
	if c := cmpUint(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmpUint(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := cmpUint(a.Patch, b.Patch); c != 0 {
		return c
	}
	switch {
	case !a.HasPre && !b.HasPre:
		return 0
	case !a.HasPre:
		return 1
	case !b.HasPre:
		return -1
	default:
		return cmpUint(a.Pre, b.Pre)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare is the method form of the package-level Compare.
func (v Version) Compare(other Version) int { return Compare(v, other) }

// Equal reports whether both versions are identical.
func (v Version) Equal(other Version) bool { return Compare(v, other) == 0 }

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return Compare(v, other) < 0 }

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
