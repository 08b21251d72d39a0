// Package filterexpr reads and writes the small filter language shared by the
// query builder and the index adapters:
//
//	from = "kai@corp.io" AND date >= "2025-03-01T00:00:00Z"
//
// and the field-scoped query terms such as from:"Kai Henderson".
package filterexpr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrSyntax is returned for expressions that do not follow the grammar.
var ErrSyntax = errors.New("filterexpr: syntax error")

// Clause is one comparison. Op is one of = != >= <= > < for filters and ":"
// for scoped query terms.
type Clause struct {
	Field string
	Op    string
	Value string
}

func (c Clause) String() string {
	if c.Op == ":" {
		return c.Field + ":" + Quote(c.Value)
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, Quote(c.Value))
}

// Quote wraps s in double quotes, escaping embedded quotes and backslashes.
func Quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Format joins clauses with AND.
func Format(clauses []Clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

var operators = []string{">=", "<=", "!=", "=", ">", "<"}

// Parse reads `field op "value" [AND field op "value" ...]`. An empty
// expression yields no clauses.
func Parse(expr string) ([]Clause, error) {
	var clauses []Clause
	s := strings.TrimSpace(expr)

	for s != "" {
		// field
		i := 0
		for i < len(s) && isIdentByte(s[i]) {
			i++
		}
		if i == 0 {
			return nil, fmt.Errorf("%w: expected field at %q", ErrSyntax, s)
		}
		field := strings.ToLower(s[:i])
		s = strings.TrimLeft(s[i:], " ")

		// operator
		op := ""
		for _, candidate := range operators {
			if strings.HasPrefix(s, candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, fmt.Errorf("%w: expected operator after %s", ErrSyntax, field)
		}
		s = strings.TrimLeft(s[len(op):], " ")

		// value
		value, rest, err := readQuoted(s)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, Clause{Field: field, Op: op, Value: value})
		s = strings.TrimLeft(rest, " ")

		if s == "" {
			break
		}
		if len(s) < 4 || !strings.EqualFold(s[:3], "AND") || s[3] != ' ' {
			return nil, fmt.Errorf("%w: expected AND at %q", ErrSyntax, s)
		}
		s = strings.TrimLeft(s[4:], " ")
		if s == "" {
			return nil, fmt.Errorf("%w: dangling AND", ErrSyntax)
		}
	}
	return clauses, nil
}

// readQuoted consumes a double-quoted string from the start of s.
func readQuoted(s string) (value, rest string, err error) {
	if s == "" || s[0] != '"' {
		return "", "", fmt.Errorf("%w: expected quoted value at %q", ErrSyntax, s)
	}
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				sb.WriteByte(s[i])
			}
		case '"':
			return sb.String(), s[i+1:], nil
		default:
			sb.WriteByte(s[i])
		}
	}
	return "", "", fmt.Errorf("%w: unterminated string", ErrSyntax)
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

var scopedTermExpr = regexp.MustCompile(`\b(from|to):"((?:[^"\\]|\\.)*)"`)

// ScopedTerms splits field-scoped terms out of a free-text query. The
// remaining free text is returned with whitespace collapsed.
func ScopedTerms(query string) (rest string, terms []Clause) {
	for _, m := range scopedTermExpr.FindAllStringSubmatch(query, -1) {
		value, _, err := readQuoted(`"` + m[2] + `"`)
		if err != nil {
			continue
		}
		terms = append(terms, Clause{Field: m[1], Op: ":", Value: value})
	}
	rest = scopedTermExpr.ReplaceAllString(query, " ")
	return strings.Join(strings.Fields(rest), " "), terms
}
