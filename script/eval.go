package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var templateExprPattern = regexp.MustCompile(`\${([^}]+)}`)

// Template is a string containing zero or more ${...} expressions that are
// evaluated against a set of globals at render time.
type Template struct {
	raw   string
	parts []string
	codes []Script
}

// NewTemplate compiles every ${...} expression in raw using the given engine.
func NewTemplate(engine Compiler, raw string) (*Template, error) {
	openCount := strings.Count(raw, "${")
	closeCount := strings.Count(raw, "}")
	if openCount > closeCount {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	if openCount == 0 {
		return &Template{raw: raw}, nil
	}

	matches := templateExprPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return &Template{raw: raw}, nil
	}

	var lastEnd int
	var parts []string
	var codes []Script
	for _, match := range matches {
		if match[0] > lastEnd {
			parts = append(parts, raw[lastEnd:match[0]])
		}
		code := raw[match[2]:match[3]]
		compiled, err := engine.Compile(context.Background(), code)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", code, err)
		}
		codes = append(codes, compiled)
		// Placeholder for the evaluated result
		parts = append(parts, "")
		lastEnd = match[1]
	}
	if lastEnd < len(raw) {
		parts = append(parts, raw[lastEnd:])
	}
	return &Template{raw: raw, parts: parts, codes: codes}, nil
}

// Eval renders the template against the given globals.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		return t.raw, nil
	}
	parts := make([]string, len(t.parts))
	copy(parts, t.parts)

	next := 0
	for _, code := range t.codes {
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		for ; next < len(parts); next++ {
			if parts[next] == "" {
				parts[next] = result.String()
				next++
				break
			}
		}
	}
	return strings.Join(parts, ""), nil
}
