package persistence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"mailchat_server/pkg/filterexpr"

	"github.com/lib/pq"
)

// ErrInvalidFilter is returned for filter expressions the index cannot translate.
var ErrInvalidFilter = errors.New("invalid filter")

const emailColumns = `message_id, from_addr, to_addr, date, subject, body`

// sqlArgs collects positional arguments.
type sqlArgs struct {
	vals []any
}

func (a *sqlArgs) add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

// buildSearchSQL translates a free-text query and a filter expression into a
// SELECT over the emails table.
//
// Free text becomes an OR tsquery ranked with ts_rank, so documents matching
// more words rank first. Field-scoped terms (from:"Kai") become ILIKE matches
// on the display header. Filter clauses become exact predicates, except
// subject which matches as a case-insensitive substring.
func buildSearchSQL(query string, filter *string, limit int) (string, []any, error) {
	args := &sqlArgs{}
	var where []string
	rank := ""

	rest, scoped := filterexpr.ScopedTerms(query)

	if tsq := toTSQuery(rest); tsq != "" {
		p := args.add(tsq)
		where = append(where, fmt.Sprintf("search_vector @@ to_tsquery('simple', %s)", p))
		rank = fmt.Sprintf("ts_rank(search_vector, to_tsquery('simple', %s)) DESC, ", p)
	}

	patterns := map[string][]string{}
	for _, t := range scoped {
		patterns[t.Field] = append(patterns[t.Field], "%"+escapeLike(t.Value)+"%")
	}
	for _, field := range []string{"from", "to"} {
		if len(patterns[field]) == 0 {
			continue
		}
		p := args.add(pq.Array(patterns[field]))
		where = append(where, fmt.Sprintf("%s ILIKE ALL(%s)", headerColumn(field), p))
	}

	if filter != nil && strings.TrimSpace(*filter) != "" {
		clauses, err := filterexpr.Parse(*filter)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		for _, c := range clauses {
			pred, err := clauseSQL(c, args)
			if err != nil {
				return "", nil, err
			}
			where = append(where, pred)
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + emailColumns + " FROM emails")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + rank + "date_ts DESC NULLS LAST, message_id")
	sb.WriteString(" LIMIT " + args.add(limit))

	return sb.String(), args.vals, nil
}

func clauseSQL(c filterexpr.Clause, args *sqlArgs) (string, error) {
	negate := func(pred string) string {
		if c.Op == "!=" {
			return "NOT (" + pred + ")"
		}
		return pred
	}
	equality := c.Op == "=" || c.Op == "!="

	switch c.Field {
	case "from", "to":
		if !equality {
			break
		}
		p := args.add(strings.ToLower(c.Value))
		return negate(fmt.Sprintf("(lower(%s) = %s OR %s_address = %s)", headerColumn(c.Field), p, c.Field, p)), nil

	case "subject":
		if !equality {
			break
		}
		p := args.add("%" + escapeLike(c.Value) + "%")
		return negate(fmt.Sprintf("subject ILIKE %s", p)), nil

	case "message_id":
		if !equality {
			break
		}
		return negate(fmt.Sprintf("message_id = %s", args.add(c.Value))), nil

	case "date":
		t, err := time.Parse(time.RFC3339, c.Value)
		if err != nil {
			return "", fmt.Errorf("%w: date %q is not RFC3339", ErrInvalidFilter, c.Value)
		}
		op := c.Op
		if op == "!=" {
			op = "<>"
		}
		return fmt.Sprintf("date_ts %s %s", op, args.add(t)), nil

	default:
		return "", fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, c.Field)
	}
	return "", fmt.Errorf("%w: operator %s not supported on %s", ErrInvalidFilter, c.Op, c.Field)
}

func headerColumn(field string) string {
	if field == "to" {
		return "to_addr"
	}
	return "from_addr"
}

// toTSQuery builds an OR query from the word tokens of text. Operators and
// punctuation are dropped so user text can never form an invalid tsquery.
func toTSQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return strings.Join(out, " | ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
