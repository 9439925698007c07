package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_TokenRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 123456789, time.FixedZone("x", 3600))
	token := At(at, "ent_01j9zq4m6d7d3s6x2y8h1k0v5w").String()

	got, err := Parse(token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.Equal(t, "ent_01j9zq4m6d7d3s6x2y8h1k0v5w", got.ID)
}

func TestParse_EmptyIsFirstPage(t *testing.T) {
	got, err := Parse("")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestParse_Rejects(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for name, token := range map[string]string{
		"not base64":    "%%%",
		"no separators": enc("nothing"),
		"wrong version": enc("c0.1.ent_x"),
		"bad timestamp": enc("c1.!!.ent_x"),
		"missing id":    enc("c1.1a."),
		"legacy pipe":   enc("1700000000|ent_x"),
	} {
		_, err := Parse(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, name)
	}
}

func TestCursor_Follows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := At(base, "ent_m")

	assert.True(t, c.Follows(base.Add(-time.Nanosecond), "ent_z"))
	assert.False(t, c.Follows(base.Add(time.Nanosecond), "ent_a"))
	assert.True(t, c.Follows(base, "ent_a"))
	assert.False(t, c.Follows(base, "ent_m"), "the cursor item itself is excluded")
	assert.False(t, c.Follows(base, "ent_z"))
}

func TestTrim(t *testing.T) {
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	key := func(s string) Cursor { return At(stamp, s) }

	tests := []struct {
		name  string
		rows  []string
		limit int
		want  []string
		next  string
	}{
		{"short page", []string{"a", "b"}, 5, []string{"a", "b"}, ""},
		{"exact page", []string{"a", "b", "c"}, 3, []string{"a", "b", "c"}, ""},
		{"one extra", []string{"a", "b", "c", "d"}, 3, []string{"a", "b", "c"}, key("c").String()},
		{"empty", nil, 3, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, next := Trim(tt.rows, tt.limit, key)
			assert.Equal(t, tt.want, page)
			assert.Equal(t, tt.next, next)
		})
	}
}

func TestTrim_NextTokenResumesAfterLastRow(t *testing.T) {
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	_, next := Trim([]string{"ent_3", "ent_2", "ent_1"}, 2, func(s string) Cursor { return At(stamp, s) })

	c, err := Parse(next)
	require.NoError(t, err)
	assert.Equal(t, "ent_2", c.ID)
	assert.True(t, c.Follows(stamp, "ent_1"))
}
