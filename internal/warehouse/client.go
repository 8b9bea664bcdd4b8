// Package warehouse reads contact rows out of an external data
// warehouse with a caller-supplied SELECT statement. The statement is
// never spliced into; paging always goes through a parameterized
// wrapper, and statements that carry their own LIMIT are rejected when
// the import needs more than one fragment.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

var (
	ErrSemicolon      = errors.New("warehouse query must not contain semicolons")
	ErrMissingColumns = errors.New("warehouse query must return first_name, last_name and cell columns")
	ErrLimitClause    = errors.New("warehouse query contains a LIMIT clause but the import needs multiple fragments")
)

var limitPattern = regexp.MustCompile(`(?i)\blimit\s+\d+`)

var requiredColumns = []string{"first_name", "last_name", "cell"}

// Row is one warehouse contact row. Columns beyond the required three
// are preserved and land in the contact's custom fields.
type Row struct {
	FirstName string
	LastName  string
	Cell      string
	Extra     map[string]string
}

type Client struct {
	db *sql.DB
}

func Open(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open warehouse connection")
	}
	return &Client{db: db}, nil
}

// NewClient wraps an existing handle; tests use this with sqlite.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

// ValidateStatement runs the statement-shape checks that need no
// warehouse round trip.
func ValidateStatement(query string) error {
	if strings.Contains(query, ";") {
		return ErrSemicolon
	}
	return nil
}

// HasLimitClause reports whether the caller's statement already pages
// itself. Wrapping such a statement per fragment would corrupt it.
func HasLimitClause(query string) bool {
	return limitPattern.MatchString(query)
}

// ValidateColumns probes the statement with a zero-row wrapper and
// verifies the required contact columns come back. The full column list
// is returned so extras can be kept as custom fields.
func (c *Client) ValidateColumns(ctx context.Context, query string) ([]string, error) {
	probe := fmt.Sprintf("SELECT * FROM (%s) AS __probe LIMIT 0", query)
	rows, err := c.db.QueryContext(ctx, probe)
	if err != nil {
		return nil, errors.Wrap(err, "probe warehouse query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		seen[strings.ToLower(col)] = true
	}
	for _, want := range requiredColumns {
		if !seen[want] {
			return nil, ErrMissingColumns
		}
	}
	return cols, nil
}

// Count wraps the statement in a COUNT query; the result sizes the
// fragment plan.
func (c *Client) Count(ctx context.Context, query string) (int64, error) {
	wrapped := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", query)
	var count int64
	if err := c.db.QueryRowContext(ctx, wrapped).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count warehouse rows")
	}
	return count, nil
}

// FetchPage reads one bounded fragment through a parameterized wrapper.
// LIMIT/OFFSET over an unordered statement may skip or repeat rows
// between fragments, so the wrapper imposes an order on the required
// contact columns; callers must have run ValidateColumns first.
func (c *Client) FetchPage(ctx context.Context, query string, limit, offset int64) ([]Row, error) {
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS __page ORDER BY cell, last_name, first_name LIMIT $1 OFFSET $2", query)
	rows, err := c.db.QueryContext(ctx, wrapped, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "fetch warehouse page")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scan := make([]interface{}, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}

		row := Row{Extra: make(map[string]string)}
		for i, col := range cols {
			v := ""
			if values[i].Valid {
				v = values[i].String
			}
			switch strings.ToLower(col) {
			case "first_name":
				row.FirstName = v
			case "last_name":
				row.LastName = v
			case "cell":
				row.Cell = v
			default:
				row.Extra[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
