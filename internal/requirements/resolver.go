// Package requirements detects inconsistent version specifiers across
// the packages the selected plugins declare, using a per-package
// descending-version breakpoint heuristic.
package requirements

import (
	"regexp"
	"sort"
	"strings"
)

const (
	gt  = ">"
	ge  = ">="
	eq  = "=="
	le  = "<="
	lt  = "<"
	neq = "!="
)

// specRe splits "name<op>version"; two-character operators are tried
// before their one-character prefixes.
var specRe = regexp.MustCompile(`^(\S+?)(<=|<|==|>=|>|!=|~=)(\S+)$`)

// operator-combination patterns, tried in order: full triples, their
// 2-combinations, then singles, built from three overlapping operator
// groups.
var (
	groupUpper = []string{gt, ge, neq}
	groupMid   = []string{ge, eq, le}
	groupLower = []string{le, lt, neq}
	groups     = [][]string{groupUpper, groupMid, groupLower}
)

type pattern []string

func buildPatterns() []pattern {
	var out []pattern
	for i, seq := range groups {
		out = append(out, pattern{seq[0], seq[1], seq[2]})
		out = append(out, pattern{seq[0], seq[1]})
		out = append(out, pattern{seq[0], seq[2]})
		out = append(out, pattern{seq[1], seq[2]})
		for j := 0; j <= i && seq[j] != neq; j++ {
			out = append(out, pattern{seq[j]})
		}
	}
	return out
}

var patterns = buildPatterns()

// Conflicts returns the subset of requirements that is inconsistent
// with at least one sibling specifier on the same package name.
func Conflicts(reqs map[string]struct{}) map[string]struct{} {
	// name -> version -> set of operators present
	toAudit := make(map[string]map[string]map[string]struct{})

	for req := range reqs {
		if !strings.ContainsAny(req, "=<>") {
			continue
		}
		m := specRe.FindStringSubmatch(req)
		if m == nil {
			continue
		}
		name, cond, version := m[1], m[2], m[3]
		if cond == "~=" {
			cond = ge
		}

		versions, ok := toAudit[name]
		if !ok {
			versions = make(map[string]map[string]struct{})
			toAudit[name] = versions
		}
		ops, ok := versions[version]
		if !ok {
			ops = make(map[string]struct{})
			versions[version] = ops
		}
		ops[cond] = struct{}{}
	}

	for _, versions := range toAudit {
		descending := make([]string, 0, len(versions))
		for v := range versions {
			descending = append(descending, v)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(descending)))

		found := false
		for _, version := range descending {
			args := versions[version]

			if found {
				for _, op := range groupUpper {
					delete(args, op)
				}
				continue
			}

			for _, pat := range patterns {
				if containsAll(args, pat) {
					for _, op := range pat {
						delete(args, op)
					}
					if !intersects(pat, groupLower) {
						found = true
					}
					break
				}
			}
		}
	}

	conflicts := make(map[string]struct{})
	for name, versions := range toAudit {
		for version, args := range versions {
			for op := range args {
				conflicts[name+op+version] = struct{}{}
			}
		}
	}
	return conflicts
}

func containsAll(args map[string]struct{}, pat pattern) bool {
	for _, op := range pat {
		if _, ok := args[op]; !ok {
			return false
		}
	}
	return true
}

// intersects reports whether pat shares any operator with group, i.e.
// whether the matched pattern touches any of the group-lower
// operators.
func intersects(pat pattern, group []string) bool {
	set := make(map[string]struct{}, len(group))
	for _, op := range group {
		set[op] = struct{}{}
	}
	for _, op := range pat {
		if _, ok := set[op]; ok {
			return true
		}
	}
	return false
}
