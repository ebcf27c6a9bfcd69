package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// tokenPattern matches a placeholder token. Tokens only appear as whole or
// embedded string values inside the template graph.
var tokenPattern = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// Placeholder declares one substitutable field of a template. Substitution is
// restricted to declared tokens; anything else in the graph is immutable.
// Optional placeholders carry the default used when the parameter bag omits
// them, so a filled graph never retains a token.
type Placeholder struct {
	Token    string
	Required bool
	Default  any
}

// Template is a workflow graph with a declared placeholder set. The decoded
// graph is treated as immutable; Fill always works on a deep copy.
type Template struct {
	Name         string
	Description  string
	OutputNode   string
	MaxSubjects  int
	Placeholders []Placeholder

	graph map[string]any
}

// MissingPlaceholderError reports required tokens absent from the parameter bag.
type MissingPlaceholderError struct {
	Tokens []string
}

func (e *MissingPlaceholderError) Error() string {
	return "workflow: missing required placeholders: " + strings.Join(e.Tokens, ", ")
}

// UnresolvedPlaceholderError reports tokens left in the graph after substitution.
type UnresolvedPlaceholderError struct {
	Tokens []string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return "workflow: unresolved placeholders: " + strings.Join(e.Tokens, ", ")
}

// UndeclaredParameterError reports parameters that do not belong to the
// template's declared placeholder set.
type UndeclaredParameterError struct {
	Keys []string
}

func (e *UndeclaredParameterError) Error() string {
	return "workflow: parameters outside declared placeholder set: " + strings.Join(e.Keys, ", ")
}

// Fill deep-copies the graph and substitutes the declared placeholders with
// the given values. Whole-string tokens take the typed value as-is; tokens
// embedded in a longer string are replaced textually. The filled graph is
// guaranteed to contain no remaining tokens.
func (t *Template) Fill(params map[string]any) (map[string]any, error) {
	declared := make(map[string]bool, len(t.Placeholders))
	values := make(map[string]any, len(t.Placeholders))
	var missing []string
	for _, p := range t.Placeholders {
		declared[p.Token] = true
		if v, ok := params[p.Token]; ok {
			values[p.Token] = v
			continue
		}
		if p.Required {
			missing = append(missing, p.Token)
			continue
		}
		values[p.Token] = p.Default
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingPlaceholderError{Tokens: missing}
	}
	var undeclared []string
	for key := range params {
		if !declared[key] {
			undeclared = append(undeclared, key)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, &UndeclaredParameterError{Keys: undeclared}
	}

	filled := deepCopyMap(t.graph)
	substitute(filled, values)

	if leftover := collectTokens(filled); len(leftover) > 0 {
		return nil, &UnresolvedPlaceholderError{Tokens: leftover}
	}
	return filled, nil
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func substitute(m map[string]any, params map[string]any) {
	for k, v := range m {
		m[k] = substituteValue(v, params)
	}
}

func substituteValue(v any, params map[string]any) any {
	switch val := v.(type) {
	case map[string]any:
		substitute(val, params)
		return val
	case []any:
		for i, item := range val {
			val[i] = substituteValue(item, params)
		}
		return val
	case string:
		return substituteString(val, params)
	default:
		return val
	}
}

func substituteString(s string, params map[string]any) any {
	// A value that is exactly one token keeps the parameter's type.
	if match := tokenPattern.FindStringSubmatch(s); match != nil && match[0] == s {
		if value, ok := params[match[1]]; ok {
			return value
		}
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		if value, ok := params[name]; ok {
			return fmt.Sprintf("%v", value)
		}
		return tok
	})
}

func collectTokens(v any) []string {
	seen := map[string]bool{}
	walkTokens(v, seen)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func walkTokens(v any, seen map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		for _, item := range val {
			walkTokens(item, seen)
		}
	case []any:
		for _, item := range val {
			walkTokens(item, seen)
		}
	case string:
		for _, match := range tokenPattern.FindAllStringSubmatch(val, -1) {
			seen[match[1]] = true
		}
	}
}
