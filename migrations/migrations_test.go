package migrations

import (
	"strings"
	"testing"

	"github.com/careflow/careflow/internal/platform/db"
)

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("migration %s: expected version %d, got %d", m.Name, i+1, m.Version)
		}
	}
	if !strings.Contains(migs[0].SQL, "CREATE TABLE IF NOT EXISTS appointment (") {
		t.Error("first migration must create the appointment table")
	}
	if !strings.Contains(migs[1].SQL, "availability_day") {
		t.Error("second migration must create the availability_day table")
	}
	if !strings.Contains(migs[2].SQL, "declared_free") {
		t.Error("third migration must add declared_free")
	}
}
