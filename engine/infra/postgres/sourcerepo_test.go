package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/records"
	"github.com/compozy/kbchat/engine/knowledge/sources"
)

func newMockRepo(t *testing.T) (*SourceRepo, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := NewSourceRepo(mock)
	repo.now = func() time.Time { return now }
	return repo, mock, now
}

func sourceRows(mock pgxmock.PgxPoolIface, now time.Time) *pgxmock.Rows {
	return mock.NewRows(sourceColumns).
		AddRow("s1", "hours.pdf", "pdf", knowledge.StatusProcessed, "uploads/hours.pdf", "library", "", 4, now, now)
}

func TestSourceRepo_Create(t *testing.T) {
	t.Run("Should insert a pending source with timestamps", func(t *testing.T) {
		repo, mock, now := newMockRepo(t)
		src := &knowledge.Source{ID: "s1", Name: "hours.pdf", Format: "pdf", Origin: "uploads/hours.pdf"}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO knowledge_sources (id,name,format,status,origin,category,error_message,chunk_count,created_at,updated_at)")).
			WithArgs("s1", "hours.pdf", "pdf", knowledge.StatusPending, "uploads/hours.pdf", "", "", 0, now, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.Create(context.Background(), src))
		assert.Equal(t, now, src.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should validate before touching the database", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)
		assert.Error(t, repo.Create(context.Background(), &knowledge.Source{ID: "s1"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSourceRepo_Get(t *testing.T) {
	t.Run("Should scan a source by id", func(t *testing.T) {
		repo, mock, now := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM knowledge_sources WHERE id = $1")).
			WithArgs("s1").
			WillReturnRows(sourceRows(mock, now))
		src, err := repo.Get(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "hours.pdf", src.Name)
		assert.Equal(t, knowledge.StatusProcessed, src.Status)
		assert.Equal(t, 4, src.ChunkCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should map no rows to not found", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM knowledge_sources WHERE origin = $1")).
			WithArgs("records:courses:1").
			WillReturnError(pgx.ErrNoRows)
		_, err := repo.FindByOrigin(context.Background(), "records:courses:1")
		assert.ErrorIs(t, err, knowledge.ErrSourceNotFound)
	})
}

func TestSourceRepo_List(t *testing.T) {
	t.Run("Should list sources newest first", func(t *testing.T) {
		repo, mock, now := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM knowledge_sources ORDER BY created_at DESC, id ASC")).
			WillReturnRows(sourceRows(mock, now))
		list, err := repo.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "s1", list[0].ID)
	})
}

func TestSourceRepo_UpdateStatus(t *testing.T) {
	t.Run("Should update status fields", func(t *testing.T) {
		repo, mock, now := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE knowledge_sources SET status = $1, chunk_count = $2, error_message = $3, updated_at = $4 WHERE id = $5")).
			WithArgs(knowledge.StatusError, 0, "no text", now, "s1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		err := repo.UpdateStatus(context.Background(), "s1", sources.StatusUpdate{Status: knowledge.StatusError, Error: "no text"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report missing sources", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)
		mock.ExpectExec("UPDATE knowledge_sources").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		err := repo.UpdateStatus(context.Background(), "nope", sources.StatusUpdate{Status: knowledge.StatusProcessed})
		assert.ErrorIs(t, err, knowledge.ErrSourceNotFound)
	})
}

func TestSourceRepo_Delete(t *testing.T) {
	t.Run("Should delete by id", func(t *testing.T) {
		repo, mock, _ := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM knowledge_sources WHERE id = $1")).
			WithArgs("s1").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		require.NoError(t, repo.Delete(context.Background(), "s1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordsRepo_Fetch(t *testing.T) {
	t.Run("Should select configured columns ordered by key", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "title", "room" FROM "courses" ORDER BY "id" LIMIT 10`)).
			WillReturnRows(mock.NewRows([]string{"id", "title", "room"}).
				AddRow(int64(1), "Databases", "B12").
				AddRow(int64(2), "Networks", nil))
		rows, err := NewRecordsRepo(mock).Fetch(context.Background(), records.Spec{
			Table:     "courses",
			KeyColumn: "id",
			Columns:   []string{"id", "title", "room"},
			Limit:     10,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "1", rows[0].Key)
		assert.Equal(t, "id: 1\ntitle: Databases\nroom: B12", records.Render(rows[0]))
		assert.Equal(t, "id: 2\ntitle: Networks", records.Render(rows[1]))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
