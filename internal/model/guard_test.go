package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// guardedRow mirrors the single-row compare-and-set writes Account.UpdateFields,
// Repo.UpdateFields and BeginFetch issue against MySQL: every guarded UPDATE
// carries `WHERE status <> 'updating'`, and zero affected rows means another
// fetch holds the row. The fetch-completion write (ApplyFetched) is the only
// unguarded one.
type guardedRow struct {
	status string
	fields map[string]interface{}
}

func newGuardedRow() *guardedRow {
	return &guardedRow{status: StatusOK, fields: map[string]interface{}{}}
}

func (r *guardedRow) updateUnlessUpdating(fields map[string]interface{}) int64 {
	if r.status == StatusUpdating {
		return 0
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	if s, ok := fields["status"]; ok {
		r.status = s.(string)
	}
	return 1
}

func (r *guardedRow) beginFetch() error {
	if r.updateUnlessUpdating(map[string]interface{}{"status": StatusUpdating}) == 0 {
		return ErrFetchInFlight
	}
	return nil
}

func (r *guardedRow) updateFields(fields map[string]interface{}) error {
	if r.updateUnlessUpdating(fields) == 0 {
		return ErrFetchInFlight
	}
	return nil
}

func (r *guardedRow) applyFetched(fields map[string]interface{}) {
	for k, v := range fields {
		r.fields[k] = v
	}
	r.fields["status"] = StatusOK
	r.status = StatusOK
}

func TestDirectUpdateRejectedWhileFetchInFlight(t *testing.T) {
	row := newGuardedRow()
	require.NoError(t, row.beginFetch())

	err := row.updateFields(map[string]interface{}{"name": "edited by hand"})
	require.ErrorIs(t, err, ErrFetchInFlight)
	assert.NotContains(t, row.fields, "name", "a rejected mutation leaves no trace on the row")

	// A second fetch cannot take the row either.
	require.ErrorIs(t, row.beginFetch(), ErrFetchInFlight)

	// The fetch-completion write lands untouched by the rejected edit.
	fetchedAt := time.Now()
	row.applyFetched(map[string]interface{}{"name": "fetched name", "last_fetched": fetchedAt})
	assert.Equal(t, "fetched name", row.fields["name"])
	assert.Equal(t, fetchedAt, row.fields["last_fetched"])
	assert.Equal(t, StatusOK, row.status)
}

func TestDirectUpdateAllowedAfterFetchCompletes(t *testing.T) {
	row := newGuardedRow()
	require.NoError(t, row.beginFetch())
	row.applyFetched(map[string]interface{}{"name": "fetched name"})

	require.NoError(t, row.updateFields(map[string]interface{}{"homepage": "https://example.org"}))
	assert.Equal(t, "https://example.org", row.fields["homepage"])
	assert.Equal(t, "fetched name", row.fields["name"])
}
