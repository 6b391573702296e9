package pg

import (
	"io/fs"
	"strings"
	"testing"
)

// The embed glob only picks up *.sql under migrations/; a misnamed or
// marker-less file would silently vanish from the startup migration run.
func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(EmbedMigrations, "migrations")
	if err != nil {
		t.Fatalf("ReadDir(migrations) error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations found")
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			t.Fatalf("migration %q is not a .sql file", name)
		}
		data, err := fs.ReadFile(EmbedMigrations, "migrations/"+name)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}
		if !strings.Contains(string(data), "-- +goose Up") {
			t.Fatalf("migration %q missing goose up marker", name)
		}
		if !strings.Contains(string(data), "-- +goose Down") {
			t.Fatalf("migration %q missing goose down marker", name)
		}
	}
}
