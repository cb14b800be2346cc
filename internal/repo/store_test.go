package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-api/internal/domain"
	"fleet-api/internal/repo"
	"fleet-api/internal/repo/repotest"
)

func TestTransactionRollsBack(t *testing.T) {
	db := repotest.NewDB(t)
	store := repo.NewStore(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(tx domain.Store) error {
		require.NoError(t, tx.Users().Create(ctx, &domain.User{Email: "a@b.co", PasswordHash: "x", FirstName: "Ann", LastName: "Lee", Role: "user", IsActive: true}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := store.Users().FindByEmail(ctx, "a@b.co")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestPartialUniqueIndexAllowsReuseAfterSoftDelete(t *testing.T) {
	db := repotest.NewDB(t)
	store := repo.NewStore(db)
	ctx := context.Background()

	first := repotest.SeedUser(t, db, "dup@example.com")
	err := store.Users().Create(ctx, &domain.User{Email: "dup@example.com", PasswordHash: "x", FirstName: "B", LastName: "C", Role: "user", IsActive: true})
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, store.Users().SoftDelete(ctx, first.ID))
	second := &domain.User{Email: "dup@example.com", PasswordHash: "x", FirstName: "B", LastName: "C", Role: "user", IsActive: true}
	require.NoError(t, store.Users().Create(ctx, second))

	// 恢复旧行会撞上新行
	err = store.Users().Restore(ctx, first.ID)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}
