package infra

import (
	"strings"
	"testing"
)

func TestMigrationVersionsAreOrderedAndEmbedded(t *testing.T) {
	versions, err := MigrationVersions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i-1] >= versions[i] {
			t.Fatalf("migrations out of order: %v", versions)
		}
	}
}

func TestMigrationsCreateCoreTables(t *testing.T) {
	versions, err := MigrationVersions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	var all strings.Builder
	for _, v := range versions {
		b, err := migrationFiles.ReadFile("migrations/" + v)
		if err != nil {
			t.Fatalf("read %s: %v", v, err)
		}
		all.Write(b)
	}
	for _, table := range []string{"users", "wallets", "entries", "bans", "appeals", "reports", "threads", "messages", "blocks", "custom_requests"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
	if !strings.Contains(all.String(), "bans_one_active_per_user") {
		t.Fatalf("expected partial unique index enforcing one active ban per user")
	}
}
