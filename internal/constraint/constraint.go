// Package constraint implements the loader's include/exclude/in rule
// engine: parsing a raw slash-separated pattern string and matching it
// against (repo, category, plugin) triples.
package constraint

import "strings"

// Kind names one of the three ordered rule sets.
type Kind int

const (
	Include Kind = iota
	Exclude
	In
)

// Rule is a parsed constraint pattern. Empty fields are "unspecified"
// (always equal) rather than "must be empty".
type Rule struct {
	Kind     Kind
	Repo     string
	Category string
	Plugin   string
	Raw      string
}

// Parse lower-cases and slash-splits raw into a Rule of the given
// kind, following the 1/2/3-token grammar:
//   - 1 token "x" -> plugin name x.
//   - 2 tokens "a/b" with b non-empty -> repo a AND plugin b.
//   - 2 tokens "a/" -> category a.
//   - 3 tokens "a/b/" -> repo a AND category b.
func Parse(kind Kind, raw string) Rule {
	folded := strings.ToLower(strings.TrimSpace(raw))
	parts := strings.Split(folded, "/")

	r := Rule{Kind: kind, Raw: folded}

	switch len(parts) {
	case 1:
		r.Plugin = parts[0]
	case 2:
		if parts[1] != "" {
			r.Repo = parts[0]
			r.Plugin = parts[1]
		} else {
			r.Category = parts[0]
		}
	case 3:
		r.Repo = parts[0]
		r.Category = parts[1]
	}
	return r
}

// Matches reports whether every specified field of r equals the
// corresponding lower-cased input. A fully-empty rule never matches.
func (r Rule) Matches(repo, category, plugin string) bool {
	if r.Repo == "" && r.Category == "" && r.Plugin == "" {
		return false
	}
	if r.Repo != "" && r.Repo != repo {
		return false
	}
	if r.Category != "" && r.Category != category {
		return false
	}
	if r.Plugin != "" && r.Plugin != plugin {
		return false
	}
	return true
}

// Set is a de-duplicated collection of raw constraint strings for one
// kind, keyed by their normalized raw form.
type Set struct {
	Kind  Kind
	rules map[string]Rule
}

// NewSet builds an empty rule set of the given kind.
func NewSet(kind Kind) *Set {
	return &Set{Kind: kind, rules: make(map[string]Rule)}
}

// Add normalizes raw and inserts it, de-duplicating against the
// existing set. Reports whether the rule was newly added.
func (s *Set) Add(raw string) bool {
	r := Parse(s.Kind, raw)
	if _, exists := s.rules[r.Raw]; exists {
		return false
	}
	s.rules[r.Raw] = r
	return true
}

// Remove drops a raw constraint string (normalized) from the set.
func (s *Set) Remove(raw string) {
	folded := strings.ToLower(strings.TrimSpace(raw))
	delete(s.rules, folded)
}

// Clear empties the set.
func (s *Set) Clear() {
	s.rules = make(map[string]Rule)
}

// Raws returns the set's normalized raw strings.
func (s *Set) Raws() []string {
	out := make([]string, 0, len(s.rules))
	for raw := range s.rules {
		out = append(out, raw)
	}
	return out
}

// AnyMatches reports whether any rule in the set matches the triple,
// returning the first matching rule for logging.
func (s *Set) AnyMatches(repo, category, plugin string) (Rule, bool) {
	for _, r := range s.rules {
		if r.Matches(repo, category, plugin) {
			return r, true
		}
	}
	return Rule{}, false
}

// Engine bundles the three ordered rule sets.
type Engine struct {
	Include *Set
	Exclude *Set
	In      *Set
}

// NewEngine builds an Engine with all three sets empty.
func NewEngine() *Engine {
	return &Engine{
		Include: NewSet(Include),
		Exclude: NewSet(Exclude),
		In:      NewSet(In),
	}
}

// Decision is the outcome of evaluating a triple against the engine.
type Decision struct {
	Keep   bool
	Reason Rule
	Ruled  bool // true if a rule (not the default) decided the outcome
}

// Evaluate applies include, then exclude, then in, in that order,
// short-circuiting on the first rule that matches.
func (e *Engine) Evaluate(repo, category, plugin string) Decision {
	if r, ok := e.Include.AnyMatches(repo, category, plugin); ok {
		return Decision{Keep: true, Reason: r, Ruled: true}
	}
	if r, ok := e.Exclude.AnyMatches(repo, category, plugin); ok {
		return Decision{Keep: false, Reason: r, Ruled: true}
	}
	if len(e.In.rules) > 0 {
		if r, ok := e.In.AnyMatches(repo, category, plugin); ok {
			return Decision{Keep: true, Reason: r, Ruled: true}
		}
		return Decision{Keep: false, Ruled: true}
	}
	return Decision{Keep: true, Ruled: false}
}
