package postgres

import (
	"fmt"
	"strings"
)

// listQuery accumulates WHERE clauses and positional arguments for the
// paginated list endpoints.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	q.sb.WriteString(" WHERE 1=1")
	return q
}

// where appends " AND <cond>" where cond contains a single %d placeholder
// for the next argument index.
func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, len(q.args)))
}

func (q *listQuery) raw(s string) {
	q.sb.WriteString(s)
}

// page appends ORDER BY plus LIMIT/OFFSET when they are positive.
func (q *listQuery) page(orderBy string, limit, offset int) {
	q.sb.WriteString(" ORDER BY ")
	q.sb.WriteString(orderBy)
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(q.args)))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		q.sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(q.args)))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
