// Package constraints implements the §4.6 PyPI-backed constraints
// resolver: for each unpinned requirement, choose the highest version
// satisfying both its specifier and a release-date ceiling, grounded on
// the PEP 503 Simple Repository API client pattern in the retrieved
// corpus (datawire-ocibuild's pkg/python/pep503), adapted to route
// through this project's own netexec executor and to the simplified
// version-comparison scheme the spec calls for rather than full PEP 440.
package constraints

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is the dotted numeric prefix of a package version string,
// compared component-wise as integers (§4.6: not full PEP 440 ordering).
type Version []int

var leadingNumeric = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*`)

// ParseVersion extracts the leading dotted-numeric run of s, ignoring any
// pre-release/local suffix (e.g. "2.1.0rc1" parses the same as "2.1.0").
func ParseVersion(s string) (Version, error) {
	m := leadingNumeric.FindString(strings.TrimSpace(s))
	if m == "" {
		return nil, fmt.Errorf("constraints: no numeric version prefix in %q", s)
	}
	parts := strings.Split(m, ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("constraints: bad version component %q in %q", p, s)
		}
		v[i] = n
	}
	return v, nil
}

// Compare returns -1, 0, or 1 the way sort.Interface-adjacent code
// expects, comparing component-wise and treating a shorter version as
// zero-padded (so 2.1 == 2.1.0).
func Compare(a, b Version) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Specifier is one `OP VERSION` clause of a requirement, e.g. ">=2.0".
type Specifier struct {
	Op      string
	Version Version
}

var specPattern = regexp.MustCompile(`^(==|!=|>=|<=|>|<|~=)\s*([0-9][0-9A-Za-z.\-_]*)$`)

// ParseSpecifiers splits a comma-joined specifier clause list, e.g.
// ">=2.0,<3.0", into individual Specifiers.
func ParseSpecifiers(s string) ([]Specifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Specifier
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		m := specPattern.FindStringSubmatch(clause)
		if m == nil {
			return nil, fmt.Errorf("constraints: unrecognized specifier clause %q", clause)
		}
		v, err := ParseVersion(m[2])
		if err != nil {
			return nil, err
		}
		out = append(out, Specifier{Op: m[1], Version: v})
	}
	return out, nil
}

// Satisfies reports whether v satisfies every specifier in specs. ~=X.Y
// (compatible release) is treated as >=X.Y,<(X+1).0 per PEP 440 §~=
// restricted to the spec's integer-tuple comparison.
func Satisfies(v Version, specs []Specifier) bool {
	for _, s := range specs {
		cmp := Compare(v, s.Version)
		switch s.Op {
		case "==":
			if cmp != 0 {
				return false
			}
		case "!=":
			if cmp == 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "~=":
			if cmp < 0 {
				return false
			}
			ceiling := append(Version{}, s.Version[:len(s.Version)-1]...)
			if len(ceiling) == 0 {
				ceiling = Version{s.Version[0]}
			}
			ceiling[len(ceiling)-1]++
			if Compare(v, ceiling) >= 0 {
				return false
			}
		}
	}
	return true
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
