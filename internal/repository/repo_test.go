package repository

import (
	"testing"

	"github.com/seowatch/seowatch-backend/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	if err := repo.RunMigrationsFS(migrations.FS); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}
