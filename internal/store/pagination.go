package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is one page of a cursor-paginated query.
type Page[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// paginate runs query ordered by integer id descending, starting below
// cursor. The query must select id-ordered rows from a table with an integer
// "id" primary key; hasWhere tells whether it already has a WHERE clause.
func paginate[T any](conn *sql.DB, query string, args []any, hasWhere bool, limit int, cursor string, scan func(*sql.Rows) (T, string, error)) (*Page[T], error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if cursor != "" {
		c, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		if hasWhere {
			query += " AND id < ?"
		} else {
			query += " WHERE id < ?"
		}
		args = append(args, c)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("paginated query: %w", err)
	}
	defer rows.Close()

	page := &Page[T]{Data: []T{}}
	var lastCursor string
	for rows.Next() {
		item, c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(page.Data) == limit {
			page.HasMore = true
			break
		}
		page.Data = append(page.Data, item)
		lastCursor = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if page.HasMore {
		page.NextCursor = lastCursor
	}
	return page, nil
}
