package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/testutil"
)

func TestSubscriptionRepository_UpdateWithVersion(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	pkg := testutil.TestPackage(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, pkg.ID)

	first, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(sub.ID)
	require.NoError(t, err)

	first.IsAutorenew = false
	require.NoError(t, repo.UpdateWithVersion(first))
	assert.Equal(t, int64(1), first.Version)

	second.Status = model.SubscriptionPastDue
	err = repo.UpdateWithVersion(second)
	assert.ErrorIs(t, err, xerrors.ErrVersionConflict)
	assert.Equal(t, int64(0), second.Version)

	stored, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsAutorenew, "zero values are written too")
	assert.Equal(t, model.SubscriptionActive, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSubscriptionRepository_FindLive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	pkg := testutil.TestPackage(t, db)
	now := time.Now().UTC()

	live := testutil.TestSubscription(t, db, user.ID, pkg.ID)
	testutil.TestSubscription(t, db, user.ID, pkg.ID, testutil.WithExpiresAt(now.Add(-time.Hour)))
	testutil.TestSubscription(t, db, user.ID, pkg.ID, testutil.WithStatus(model.SubscriptionPastDue))

	subs, err := repo.FindLive(user.ID, now)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, live.ID, subs[0].ID)

	count, err := repo.CountLive(user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSubscriptionRepository_ProviderLookups(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	pkg := testutil.TestPackage(t, db)

	card := testutil.TestSubscription(t, db, user.ID, pkg.ID)
	store := testutil.TestSubscription(t, db, user.ID, pkg.ID, testutil.AsPlatform("1000000001"))

	found, err := repo.GetByProviderSubscriptionID(card.ProviderSubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, card.ID, found.ID)

	found, err = repo.GetByOriginalTransactionID("1000000001")
	require.NoError(t, err)
	assert.Equal(t, store.ID, found.ID)

	_, err = repo.GetByOriginalTransactionID("missing")
	assert.Error(t, err)

	latest, err := repo.LatestByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ID, latest.ID)

	lapsed, err := repo.LatestByUserAndStatus(user.ID, []model.SubscriptionStatus{model.SubscriptionPastDue})
	assert.Error(t, err)
	assert.Nil(t, lapsed)
}

func TestSubscriptionRepository_AbandonedPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	pkg := testutil.TestPackage(t, db)
	now := time.Now().UTC()

	old := testutil.TestSubscription(t, db, user.ID, pkg.ID,
		testutil.WithStatus(model.SubscriptionPending),
		testutil.WithCreatedAt(now.Add(-72*time.Hour)))
	testutil.TestSubscription(t, db, user.ID, pkg.ID, testutil.WithStatus(model.SubscriptionPending))
	testutil.TestSubscription(t, db, user.ID, pkg.ID, testutil.WithCreatedAt(now.Add(-72*time.Hour)))

	ids, err := repo.FindAbandonedPending(now.Add(-48*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID}, ids)

	deleted, err := repo.DeletePending(ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(old.ID)
	assert.Error(t, err)
}
