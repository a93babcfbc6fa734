package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the directory
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	// Then: It contains the initial schema migration
	found := false
	for _, entry := range entries {
		if entry.Name() == "001_initial_schema.sql" {
			found = true
			break
		}
	}

	if !found {
		t.Error("001_initial_schema.sql not found in embedded FS")
	}
}

func TestEmbeddedFS_MigrationCreatesCollections(t *testing.T) {
	content, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	s := string(content)
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(s, marker) {
			t.Errorf("migration missing %q directive", marker)
		}
	}
	for _, table := range []string{"cardsets", "statistics", "pending_operations", "sync_metadata"} {
		if !strings.Contains(s, "CREATE TABLE "+table+" (") {
			t.Errorf("migration missing %s table creation", table)
		}
	}
}
