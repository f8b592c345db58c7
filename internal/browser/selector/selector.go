// internal/browser/selector/selector.go
package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptySpec is returned for a Spec without strategies or a strategy without fragments.
var ErrEmptySpec = errors.New("selector: empty selector spec")

const ariaPrefix = "aria/"

// ariaPattern splits "Name[role=\"x\"]" into its name and optional role.
var ariaPattern = regexp.MustCompile(`^(.*?)(?:\[role="([^"]*)"\])?$`)

// Fragment is one step of a strategy chain: either a CSS selector or an
// accessibility query by name and role.
type Fragment struct {
	CSS string
	// ARIA is set for accessibility queries; Name and Role may each be empty,
	// but not both.
	ARIA bool
	Name string
	Role string
}

func (f Fragment) String() string {
	if !f.ARIA {
		return f.CSS
	}
	if f.Role == "" {
		return ariaPrefix + f.Name
	}
	return fmt.Sprintf(`%s%s[role="%s"]`, ariaPrefix, f.Name, f.Role)
}

// ParseFragment parses "aria/Name[role=\"x\"]" or a plain CSS selector.
func ParseFragment(raw string) (Fragment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Fragment{}, fmt.Errorf("selector: empty fragment")
	}
	if !strings.HasPrefix(raw, ariaPrefix) {
		return Fragment{CSS: raw}, nil
	}
	m := ariaPattern.FindStringSubmatch(strings.TrimPrefix(raw, ariaPrefix))
	if m == nil || (m[1] == "" && m[2] == "") {
		return Fragment{}, fmt.Errorf("selector: malformed aria fragment %q", raw)
	}
	return Fragment{ARIA: true, Name: m[1], Role: m[2]}, nil
}

// Chain is one strategy: fragments resolved in sequence, each inside the
// shadow root (or the element itself) of the previous match.
type Chain []Fragment

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, f := range c {
		parts[i] = f.String()
	}
	return strings.Join(parts, " >> ")
}

// Spec is an ordered list of strategies tried until one resolves.
type Spec []Chain

// Validate fails fast on empty specs and empty chains.
func (s Spec) Validate() error {
	if len(s) == 0 {
		return ErrEmptySpec
	}
	for i, c := range s {
		if len(c) == 0 {
			return fmt.Errorf("%w: strategy %d has no fragments", ErrEmptySpec, i)
		}
	}
	return nil
}

// Candidates lists the strategies in string form, in trial order.
func (s Spec) Candidates() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.String()
	}
	return out
}

// Parse builds a Spec from raw strategies.
func Parse(strategies ...[]string) (Spec, error) {
	spec := make(Spec, 0, len(strategies))
	for _, raw := range strategies {
		chain := make(Chain, 0, len(raw))
		for _, r := range raw {
			f, err := ParseFragment(r)
			if err != nil {
				return nil, err
			}
			chain = append(chain, f)
		}
		spec = append(spec, chain)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// MustParse is Parse for package level selector tables. It panics on error.
func MustParse(strategies ...[]string) Spec {
	spec, err := Parse(strategies...)
	if err != nil {
		panic(err)
	}
	return spec
}

// NotFoundError reports that no strategy resolved. Reasons are aligned with Candidates.
type NotFoundError struct {
	Candidates []string
	Reasons    []string
}

func (e *NotFoundError) Error() string {
	lines := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		reason := "not found"
		if i < len(e.Reasons) && e.Reasons[i] != "" {
			reason = e.Reasons[i]
		}
		lines[i] = fmt.Sprintf("%q (%s)", c, reason)
	}
	return "could not find element for selectors: " + strings.Join(lines, ", ")
}
