package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codequesthq/codequest-backend/pkg/migrate"
)

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_credit_transactions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS credit_transactions",
		"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		"CHECK (credits_after = credits_before - credits_used)",
		"idx_credit_transactions_user_created",
		"DROP TABLE IF EXISTS credit_transactions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAccountMigrationForbidsNegativeBalance(t *testing.T) {
	content := readMigration(t, "*_create_credit_accounts.sql")

	checks := []string{
		"user_id UUID NOT NULL UNIQUE",
		"CHECK (current_credits >= 0)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWebhookEventsMigrationUsesKeyAsPrimaryKey(t *testing.T) {
	content := readMigration(t, "*_create_webhook_events.sql")

	checks := []string{
		"id TEXT PRIMARY KEY",
		"CREATE TYPE webhook_event_status AS ENUM ('processing', 'completed', 'failed')",
		"idx_webhook_events_created_at",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
