// Package pagination implements opaque keyset cursors for listings ordered
// newest first by (created_at, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned by Parse for anything String did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

const version = "c1"

// Cursor marks the last item of a page. The next page starts strictly after
// it in newest-first order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// At returns the cursor for an item keyed (createdAt, id).
func At(createdAt time.Time, id string) Cursor {
	return Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

// String returns the opaque token handed to clients.
func (c Cursor) String() string {
	payload := version + "." + strconv.FormatInt(c.CreatedAt.UnixNano(), 36) + "." + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Follows reports whether the item keyed (createdAt, id) belongs on a page
// after c: older, or equally old with a smaller id.
func (c Cursor) Follows(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Parse decodes a token. The empty token means "first page" and yields nil.
func Parse(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), ".", 3)
	if len(parts) != 3 || parts[0] != version || parts[2] == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	c := At(time.Unix(0, nanos), parts[2])
	return &c, nil
}

// Trim cuts a result fetched with limit+1 rows down to limit. When the extra
// row was present it returns the token for the following page, otherwise "".
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, string) {
	if limit < 0 || len(rows) <= limit {
		return rows, ""
	}
	page := rows[:limit]
	if limit == 0 {
		return page, ""
	}
	return page, key(page[limit-1]).String()
}
