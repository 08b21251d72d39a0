package search

import (
	"fmt"
	"strings"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/filterexpr"
)

// BuildQuery compiles verified criteria into a free-text query and a filter
// expression for the search backend. A nil component means no criteria of
// that kind are present.
//
// A from/to value containing "@" becomes an exact filter clause. A bare name
// becomes a field-scoped query term instead: it would almost never equal the
// stored header verbatim, and as a plain keyword it would match the name
// anywhere in the document.
func BuildQuery(c *domain.QueryCriteria) (query *string, filter *string) {
	if c == nil {
		return nil, nil
	}

	var terms []string
	if len(c.Keywords) > 0 {
		terms = append(terms, strings.Join(c.Keywords, " "))
	}

	var filters []string
	partyClause := func(field, value string) {
		if value == "" {
			return
		}
		if domain.IsVerified(value) {
			filters = append(filters, fmt.Sprintf(`%s = %s`, field, filterexpr.Quote(value)))
		} else {
			terms = append(terms, fmt.Sprintf(`%s:%s`, field, filterexpr.Quote(value)))
		}
	}
	partyClause("from", c.From)
	partyClause("to", c.To)

	if c.Subject != "" {
		filters = append(filters, fmt.Sprintf(`subject = %s`, filterexpr.Quote(c.Subject)))
	}
	if c.DateFrom != nil {
		filters = append(filters, fmt.Sprintf(`date >= %s`, filterexpr.Quote(c.DateFrom.Format(time.RFC3339))))
	}
	if c.DateTo != nil {
		filters = append(filters, fmt.Sprintf(`date <= %s`, filterexpr.Quote(c.DateTo.Format(time.RFC3339))))
	}

	if len(terms) > 0 {
		q := strings.Join(terms, " ")
		query = &q
	}
	if len(filters) > 0 {
		f := strings.Join(filters, " AND ")
		filter = &f
	}
	return query, filter
}
