package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/testutil"
)

func TestTargetViewRepository_AddViews(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewTargetViewRepository(db)
	user := testutil.TestUser(t, db)
	exp := testutil.TestExperience(t, db, user.ID)
	day := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	require.NoError(t, repo.AddViews(exp.ID, user.ID, day, false, 10))
	require.NoError(t, repo.AddViews(exp.ID, user.ID, day.Add(2*time.Hour), false, 5))

	tv, err := repo.GetDay(exp.ID, day, false)
	require.NoError(t, err)
	assert.Equal(t, int64(15), tv.Views)

	_, err = repo.GetDay(exp.ID, day, true)
	assert.Error(t, err, "trial rows are keyed separately")
}

func TestTargetViewRepository_Sums(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewTargetViewRepository(db)
	user := testutil.TestUser(t, db)
	exp := testutil.TestExperience(t, db, user.ID)
	other := testutil.TestExperience(t, db, user.ID)
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	testutil.TestTargetView(t, db, exp, today.AddDate(0, 0, -5), 40, true)
	testutil.TestTargetView(t, db, exp, today.AddDate(0, 0, -1), 20, false)
	testutil.TestTargetView(t, db, exp, today, 7, false)
	testutil.TestTargetView(t, db, other, today, 3, false)

	prev, err := repo.SumPrevious(exp.ID, today, false)
	require.NoError(t, err)
	assert.Equal(t, int64(60), prev, "paid period counts trial history")

	prev, err = repo.SumPrevious(exp.ID, today, true)
	require.NoError(t, err)
	assert.Equal(t, int64(40), prev)

	period, err := repo.SumUserSince(user.ID, today.AddDate(0, 0, -1).Add(13*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(30), period)

	day, err := repo.SumUserDay(user.ID, today.Add(9*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), day)
}

func TestBalanceRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewBalanceRepository(db)
	user := testutil.TestUser(t, db)

	created, err := repo.GetOrCreate(user.ID, "usd")
	require.NoError(t, err)
	assert.Zero(t, created.Amount)

	again, err := repo.GetOrCreate(user.ID, "usd")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	require.NoError(t, repo.Refill(created.ID, 1000, time.Now().UTC()))
	require.NoError(t, repo.AddAmount(created.ID, -250))
	require.NoError(t, repo.UpdateLimits(created.ID, 500, true, true))

	stored, err := repo.GetForUpdate(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), stored.Amount)
	assert.Equal(t, int64(1000), stored.LastRefillAmount)
	assert.NotNil(t, stored.RefillBalanceAt)
	assert.Equal(t, int64(500), stored.MonthlyLimit)
	assert.True(t, stored.IsChargeLimitEnabled)
	assert.True(t, stored.IsLimitWarningEnabled)
}

func TestChargeAndTransactionRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	charges := NewChargeRepository(db)
	txns := NewTransactionRepository(db)
	user := testutil.TestUser(t, db)
	balance := testutil.TestBalance(t, db, user.ID, 1000)
	now := time.Now().UTC()

	require.NoError(t, charges.Create(&model.Charge{BalanceID: balance.ID, ExperienceID: 1, Recognitions: 3, Amount: 15, Currency: "usd"}))
	old := &model.Charge{BalanceID: balance.ID, ExperienceID: 1, Recognitions: 1, Amount: 5, Currency: "usd", CreatedAt: now.Add(-40 * 24 * time.Hour)}
	require.NoError(t, charges.Create(old))
	assert.Len(t, old.Reference, 26)

	sum, err := charges.SumSince(balance.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum)

	txn := &model.Transaction{UserID: user.ID, Provider: model.ProviderCard, Type: model.TransactionSubscription, Amount: 2000, Currency: "usd", ProviderTransactionID: "in_1"}
	require.NoError(t, txns.Create(txn))
	assert.NotEmpty(t, txn.Reference)

	exists, err := txns.ExistsByProviderTxn(model.ProviderCard, "in_1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = txns.ExistsByProviderTxn(model.ProviderPlatform, "in_1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = txns.ExistsByProviderTxn(model.ProviderCard, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExperienceRepository_DisableEnable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewExperienceRepository(db)
	user := testutil.TestUser(t, db)
	a := testutil.TestExperience(t, db, user.ID)
	b := testutil.TestExperience(t, db, user.ID, testutil.WithExperienceStatus(model.ExperienceRejected))
	testutil.TestExperience(t, db, user.ID, testutil.WithExperienceStatus(model.ExperienceDeleted))

	n, err := repo.Disable([]int64{a.ID, b.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "rejected experiences are left alone")

	exps, err := repo.ListByUser(user.ID)
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.Equal(t, model.ExperienceDisabled, exps[0].Status)
	assert.True(t, exps[0].IsLastUsed)

	n, err = repo.Enable([]int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExperienceActive, got.Status)
	assert.False(t, got.IsLastUsed)
}

func TestUserAndPackageRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	users := NewUserRepository(db)
	pkgs := NewPackageRepository(db)
	user := testutil.TestUser(t, db)

	changed, err := users.MarkTrialUsed(user.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = users.MarkTrialUsed(user.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, users.SetCardCustomer(user.ID, "cus_1"))
	stored, err := users.GetByIDForUpdate(user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsTrialUsed)
	assert.Equal(t, "cus_1", stored.CardCustomerID)

	trial := testutil.TestPackage(t, db, testutil.AsTrial())
	pro := testutil.TestPackage(t, db, testutil.WithPrice(6000), testutil.WithProductID("com.example.pro"))
	basic := testutil.TestPackage(t, db)

	found, err := pkgs.GetByPlatformProductID("com.example.pro")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, found.ID)

	gotTrial, err := pkgs.GetTrial()
	require.NoError(t, err)
	assert.Equal(t, trial.ID, gotTrial.ID)

	public, err := pkgs.ListPublic()
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, basic.ID, public[0].ID)
}
