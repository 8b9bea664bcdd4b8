package warehouse

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *Client {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE voters (first_name TEXT, last_name TEXT, cell TEXT, zip TEXT)`)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err = db.Exec(`INSERT INTO voters VALUES ('Pat', 'Voter', '+1202555000'||?, '20001')`, i)
		require.NoError(t, err)
	}
	return NewClient(db)
}

func TestValidateStatement(t *testing.T) {
	assert.NoError(t, ValidateStatement("SELECT first_name, last_name, cell FROM voters"))
	assert.ErrorIs(t, ValidateStatement("SELECT 1; DROP TABLE voters"), ErrSemicolon)
	assert.ErrorIs(t, ValidateStatement(";"), ErrSemicolon)
}

func TestHasLimitClause(t *testing.T) {
	assert.True(t, HasLimitClause("SELECT * FROM voters LIMIT 10"))
	assert.True(t, HasLimitClause("select * from voters limit 5 offset 2"))
	assert.False(t, HasLimitClause("SELECT * FROM voters"))
	// A column merely named like the keyword does not count.
	assert.False(t, HasLimitClause("SELECT rate_limit FROM voters"))
	assert.False(t, HasLimitClause("SELECT * FROM voters WHERE note = 'no limit here'"))
}

func TestValidateColumns(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	cols, err := c.ValidateColumns(ctx, "SELECT first_name, last_name, cell, zip FROM voters")
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "last_name", "cell", "zip"}, cols)

	_, err = c.ValidateColumns(ctx, "SELECT first_name, zip FROM voters")
	assert.ErrorIs(t, err, ErrMissingColumns)

	_, err = c.ValidateColumns(ctx, "SELECT broken FROM nowhere")
	assert.Error(t, err)
}

func TestCountAndFetchPage(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	query := "SELECT first_name, last_name, cell, zip FROM voters"

	total, err := c.Count(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	page, err := c.FetchPage(ctx, query, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "Pat", page[0].FirstName)
	assert.Equal(t, "20001", page[0].Extra["zip"], "unrequired columns ride along as extras")

	last, err := c.FetchPage(ctx, query, 3, 6)
	require.NoError(t, err)
	assert.Len(t, last, 1)

	past, err := c.FetchPage(ctx, query, 3, 99)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestFetchPage_StableAcrossFragments(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE voters (first_name TEXT, last_name TEXT, cell TEXT)`)
	require.NoError(t, err)
	// Insert in scrambled cell order; paging must still see every row
	// exactly once.
	for _, i := range []int{4, 0, 8, 2, 6, 1, 9, 3, 7, 5} {
		_, err = db.Exec(`INSERT INTO voters VALUES ('Pat', 'Voter'||?, '+1202555000'||?)`, i, i)
		require.NoError(t, err)
	}
	c := NewClient(db)
	ctx := context.Background()
	query := "SELECT first_name, last_name, cell FROM voters"

	seen := make(map[string]bool)
	for offset := int64(0); offset < 10; offset += 3 {
		page, err := c.FetchPage(ctx, query, 3, offset)
		require.NoError(t, err)
		for _, row := range page {
			assert.False(t, seen[row.Cell], "row %s appeared in two fragments", row.Cell)
			seen[row.Cell] = true
		}
	}
	assert.Len(t, seen, 10, "every row lands in exactly one fragment")
}
