package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/terraconstructs/rolewarden/internal/db/bunx"
	"github.com/terraconstructs/rolewarden/internal/db/models"
	"github.com/terraconstructs/rolewarden/internal/migrations"
)

// setupTestDB opens a private in-memory SQLite database and applies all
// migrations to it.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	db, err := bunx.Open(context.Background(), fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}

func newRecord(member string, occurred time.Time, removed ...string) *models.AuditRecord {
	return &models.AuditRecord{
		MemberID:     member,
		ActionID:     bunx.NewUUIDv7(),
		Action:       "group-conflict",
		Reason:       "Only one role from group allowed",
		RemovedRoles: removed,
		OccurredAt:   occurred,
	}
}

func TestBunAuditRepository_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunAuditRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("insert new member", func(t *testing.T) {
		rec := newRecord("1001", now, "5")
		newRole := "10"
		rec.NewRole = &newRole
		require.NoError(t, repo.Upsert(ctx, rec))

		got, err := repo.GetByMemberID(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, []string{"5"}, got.RemovedRoles)
		require.NotNil(t, got.NewRole)
		assert.Equal(t, "10", *got.NewRole)
		assert.True(t, now.Equal(got.OccurredAt))
	})

	t.Run("upsert replaces the previous row", func(t *testing.T) {
		rec := newRecord("1001", now.Add(time.Minute), "10", "20")
		rec.Action = "dependency-violation"
		require.NoError(t, repo.Upsert(ctx, rec))

		got, err := repo.GetByMemberID(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, []string{"10", "20"}, got.RemovedRoles)
		assert.Equal(t, "dependency-violation", got.Action)
		assert.Nil(t, got.NewRole)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("missing member", func(t *testing.T) {
		_, err := repo.GetByMemberID(ctx, "404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("member id required", func(t *testing.T) {
		err := repo.Upsert(ctx, newRecord("", now))
		assert.Error(t, err)
	})

	t.Run("nil removed roles stored as empty list", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, newRecord("1002", now)))
		got, err := repo.GetByMemberID(ctx, "1002")
		require.NoError(t, err)
		assert.NotNil(t, got.RemovedRoles)
		assert.Empty(t, got.RemovedRoles)
	})
}

func TestBunAuditRepository_ListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunAuditRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, newRecord("1", base, "5")))
	require.NoError(t, repo.Upsert(ctx, newRecord("2", base.Add(2*time.Hour), "6")))
	require.NoError(t, repo.Upsert(ctx, newRecord("3", base.Add(time.Hour), "7")))

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "2", recs[0].MemberID)
	assert.Equal(t, "3", recs[1].MemberID)
	assert.Equal(t, "1", recs[2].MemberID)
}

func TestBunAuditRepository_ConcurrentUpserts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunAuditRepository(db)
	ctx := context.Background()

	const members = 20
	var wg sync.WaitGroup
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Upsert(ctx, newRecord(fmt.Sprintf("%d", 100+i), time.Now().UTC(), "5")))
		}(i)
	}
	wg.Wait()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, members, n)
}
