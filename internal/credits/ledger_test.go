package credits

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nestora-backend/internal/database"
	"nestora-backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func TestGrant(t *testing.T) {
	t.Run("AppendsTransactionAndBalance", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		result, err := ledger.Grant(1, 100, "promo", 9, "")
		require.NoError(t, err)
		assert.Equal(t, int64(100), result.NewBalance)
		assert.False(t, result.Replayed)

		var txn models.CreditTransaction
		require.NoError(t, db.First(&txn, result.TransactionID).Error)
		assert.Equal(t, int64(100), txn.Amount)
		assert.Equal(t, "grant", txn.Type)
		assert.Equal(t, "promo", txn.Description)
		assert.Equal(t, uint(9), txn.ActorID)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		_, err := ledger.Grant(1, 0, "", 9, "")
		assert.Error(t, err)

		_, err = ledger.Grant(1, -50, "", 9, "")
		assert.Error(t, err)
	})

	t.Run("SequentialGrantsAccumulate", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		first, err := ledger.Grant(1, 100, "promo", 9, "")
		require.NoError(t, err)
		assert.Equal(t, int64(100), first.NewBalance)

		second, err := ledger.Grant(1, 50, "top-up", 9, "")
		require.NoError(t, err)
		assert.Equal(t, int64(150), second.NewBalance)

		var sum int64
		require.NoError(t, db.Model(&models.CreditTransaction{}).
			Where("organization_id = ?", 1).
			Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)
		assert.Equal(t, int64(150), sum)

		balance, err := ledger.Balance(1)
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)
	})

	t.Run("ConcurrentGrantsAllApply", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		const workers = 8
		const amount = int64(10)

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Grant(1, amount, "concurrent", uint(i+1), "")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		balance, err := ledger.Balance(1)
		require.NoError(t, err)
		assert.Equal(t, int64(workers)*amount, balance)

		var count int64
		require.NoError(t, db.Model(&models.CreditTransaction{}).
			Where("organization_id = ?", 1).Count(&count).Error)
		assert.Equal(t, int64(workers), count)
	})

	t.Run("GrantAdjustsBalanceRowCreatedByRacingGrant", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		// Another first-ever grant already created the balance row; the upsert
		// must fold the delta into it in one statement instead of failing an
		// INSERT mid-transaction.
		require.NoError(t, db.Create(&models.OrganizationCreditBalance{OrganizationID: 1, Balance: 40}).Error)

		result, err := ledger.Grant(1, 60, "top-up", 9, "")
		require.NoError(t, err)
		assert.Equal(t, int64(100), result.NewBalance)

		var rows int64
		require.NoError(t, db.Model(&models.OrganizationCreditBalance{}).
			Where("organization_id = ?", 1).Count(&rows).Error)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("IdempotencyKeyReplaysOriginal", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		first, err := ledger.Grant(1, 100, "promo", 9, "grant-abc")
		require.NoError(t, err)
		assert.False(t, first.Replayed)

		replay, err := ledger.Grant(1, 100, "promo", 9, "grant-abc")
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		assert.Equal(t, first.TransactionID, replay.TransactionID)

		balance, err := ledger.Balance(1)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})
}

func TestBalance(t *testing.T) {
	t.Run("ZeroWithoutRow", func(t *testing.T) {
		db := openTestDB(t)
		ledger := NewLedger(db)

		balance, err := ledger.Balance(42)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestSummarize(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	_, err := ledger.Grant(1, 200, "initial", 9, "")
	require.NoError(t, err)
	_, err = ledger.Grant(1, 100, "top-up", 9, "")
	require.NoError(t, err)

	// Simulate usage outside the grant path.
	require.NoError(t, db.Create(&models.CreditTransaction{
		OrganizationID: 1, Amount: -40, Type: "usage", Source: "metering",
	}).Error)
	require.NoError(t, db.Model(&models.OrganizationCreditBalance{}).
		Where("organization_id = ?", 1).
		Update("balance", gorm.Expr("balance + ?", -40)).Error)

	summary, err := ledger.Summarize(1)
	require.NoError(t, err)

	assert.Equal(t, int64(260), summary.Balance)
	assert.Equal(t, int64(300), summary.TotalGranted)
	assert.Equal(t, int64(40), summary.TotalUsed)
	assert.Len(t, summary.Transactions, 3)
	require.NotNil(t, summary.LastTopUp)
	assert.Equal(t, int64(100), summary.LastTopUp.Amount)
	require.NotEmpty(t, summary.WeeklyUsage)
	latest := summary.WeeklyUsage[len(summary.WeeklyUsage)-1]
	assert.Equal(t, int64(300), latest.Credits)
	assert.Equal(t, int64(40), latest.Debits)
}
