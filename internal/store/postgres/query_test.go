package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

func TestMarketListQueryNoFilters(t *testing.T) {
	q := marketListQuery(domain.ListOpts{})
	assert.Equal(t, `SELECT `+marketCols+` FROM markets WHERE 1=1 ORDER BY seq ASC`, q.String())
	assert.Empty(t, q.args)
}

func TestMarketListQueryAllFilters(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	until := time.Unix(1_800_000_000, 0)
	q := marketListQuery(domain.ListOpts{
		Limit: 10, Offset: 20, OpenOnly: true, Since: &since, Until: &until,
	})

	assert.Equal(t,
		`SELECT `+marketCols+` FROM markets WHERE 1=1 AND open AND ts >= $1 AND ts <= $2 ORDER BY seq ASC LIMIT $3 OFFSET $4`,
		q.String())
	assert.Equal(t, []any{int64(1_700_000_000), int64(1_800_000_000), 10, 20}, q.args)
}

func TestListQueryOffsetWithoutLimit(t *testing.T) {
	q := newListQuery("SELECT id FROM audit_log")
	q.page("id DESC", 0, 5)
	assert.Equal(t, "SELECT id FROM audit_log WHERE 1=1 ORDER BY id DESC OFFSET $1", q.String())
	assert.Equal(t, []any{5}, q.args)
}

func TestMarketArgsNullableColumns(t *testing.T) {
	args, err := marketArgs(domain.Market{
		ConditionID: "0xc",
		Outcomes:    []domain.Outcome{{Label: "Yes"}},
	})
	assert.NoError(t, err)
	assert.Len(t, args, 15)
	assert.Nil(t, args[8])
	assert.Nil(t, args[9])
	assert.JSONEq(t, `[{"label":"Yes","positionId":"","balance":"","price":"","correct":false}]`, string(args[3].([]byte)))

	args, err = marketArgs(domain.Market{Payouts: []string{"1", "0"}})
	assert.NoError(t, err)
	assert.Equal(t, `["1","0"]`, string(args[8].([]byte)))
}

func TestAuditListQueryFilters(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	q := auditListQuery(domain.ListOpts{
		Limit: 20, Event: "reducer.", ConditionID: "0xABC", Since: &since,
	})
	assert.Equal(t,
		`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`+
			` AND starts_with(event, $1) AND detail->>'condition_id' = $2 AND created_at >= $3`+
			` ORDER BY created_at DESC, id DESC LIMIT $4`,
		q.String())
	assert.Equal(t, []any{"reducer.", "0xabc", since, 20}, q.args)

	q = auditListQuery(domain.ListOpts{Event: "archive.snapshot"})
	assert.Equal(t,
		`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND event = $1 ORDER BY created_at DESC, id DESC`,
		q.String())
	assert.Equal(t, []any{"archive.snapshot"}, q.args)
}
