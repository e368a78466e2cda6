package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Run("Should render configured columns in order and skip empty values", func(t *testing.T) {
		row, err := NewRow("id", []string{"title", "description", "starts_at"}, map[string]any{
			"id":          int64(7),
			"title":       "Open day",
			"description": "  ",
			"starts_at":   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Equal(t, "7", row.Key)
		assert.Equal(t, "title: Open day\nstarts_at: 2026-03-01T09:00:00Z", Render(row))
	})

	t.Run("Should fall back to every column in name order", func(t *testing.T) {
		row, err := NewRow("id", nil, map[string]any{"id": "a", "b": []byte("bee"), "a": 1.5})
		require.NoError(t, err)
		assert.Equal(t, "a: 1.5\nb: bee\nid: a", Render(row))
	})

	t.Run("Should require the key column", func(t *testing.T) {
		_, err := NewRow("id", nil, map[string]any{"name": "x"})
		assert.Error(t, err)
	})
}

func TestOrigin(t *testing.T) {
	t.Run("Should build stable keys", func(t *testing.T) {
		assert.Equal(t, "records:courses:42", Origin("courses", "42"))
		assert.Equal(t, "courses #42", Name("courses", "42"))
	})
	t.Run("Should validate specs", func(t *testing.T) {
		assert.Error(t, Spec{}.Validate())
		assert.Error(t, Spec{Table: "t"}.Validate())
		assert.NoError(t, Spec{Table: "t", KeyColumn: "id"}.Validate())
	})
}
