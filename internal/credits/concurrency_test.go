package credits

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

// setupSerializedTestDB opens a file-backed database whose transactions take
// the write lock at BEGIN, so concurrent writers queue instead of failing.
func setupSerializedTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	conn, err := gorm.Open(sqlite.Open("file:"+path+"?_busy_timeout=5000&_txlock=immediate"), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS credit_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  current_credits INTEGER NOT NULL DEFAULT 0,
  total_credits_earned INTEGER NOT NULL DEFAULT 0,
  total_credits_used INTEGER NOT NULL DEFAULT 0,
  last_reset_date DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS credit_transactions (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  service_name TEXT,
  service_category TEXT,
  credits_used INTEGER NOT NULL,
  credits_before INTEGER NOT NULL,
  credits_after INTEGER NOT NULL,
  actual_price NUMERIC,
  metadata TEXT,
  created_at DATETIME
);`
	require.NoError(t, conn.Exec(accounts).Error)
	require.NoError(t, conn.Exec(transactions).Error)
	return conn
}

func TestDeduct_concurrentSpendersSerializeOnBalance(t *testing.T) {
	conn := setupSerializedTestDB(t)
	client, err := db.NewWithConn(conn)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		Allotments:        &fakeAllotments{},
		TransactionRunner: client,
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	account := createTestAccount(t, conn, 10, nil)

	// Balance 10, two simultaneous charges of 7: exactly one may land.
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]*DeductResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Deduct(context.Background(), DeductInput{
				UserID:          account.UserID,
				Cost:            7,
				ServiceName:     "code_execution",
				ServiceCategory: "sandbox",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Success {
			successes++
			assert.Equal(t, 7, results[i].CreditsDeducted)
			assert.Equal(t, 3, results[i].RemainingCredits)
		} else {
			assert.Equal(t, 3, results[i].RemainingCredits, "loser must see the committed balance")
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent deduct may succeed")

	var reloaded models.CreditAccount
	require.NoError(t, conn.Where("user_id = ?", account.UserID).First(&reloaded).Error)
	assert.Equal(t, 3, reloaded.CurrentCredits)
	assert.Equal(t, 7, reloaded.TotalCreditsUsed)

	var usageRows int64
	require.NoError(t, conn.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND type = ?", account.UserID, enums.CreditTransactionTypeUsage).
		Count(&usageRows).Error)
	assert.Equal(t, int64(1), usageRows, "only the winning deduct may append a usage row")
}
