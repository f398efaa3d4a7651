package repository

import (
	"context"
	"testing"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func TestSuppressionLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s := &models.Suppression{
		DedupKey:    "key-1",
		RuleID:      "rule-1",
		WindowStart: now,
		WindowEnd:   now.Add(time.Hour),
	}
	if err := repo.CreateSuppression(ctx, s); err != nil {
		t.Fatalf("Failed to create suppression: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := repo.IncrementSuppression(ctx, "key-1", `{"alert":"a"}`); err != nil {
			t.Fatalf("Failed to increment: %v", err)
		}
	}

	got, err := repo.GetSuppression(ctx, "key-1")
	if err != nil {
		t.Fatalf("Failed to get suppression: %v", err)
	}
	if got == nil {
		t.Fatal("Suppression should exist")
	}
	if got.SuppressedCount != 4 {
		t.Errorf("Expected suppressed count 4, got %d", got.SuppressedCount)
	}

	// Nothing flushable while the window is open.
	flushable, err := repo.ListFlushable(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to list flushable: %v", err)
	}
	if len(flushable) != 0 {
		t.Errorf("Window still open, expected none flushable, got %d", len(flushable))
	}

	flushable, err = repo.ListFlushable(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Failed to list flushable: %v", err)
	}
	if len(flushable) != 1 {
		t.Fatalf("Expected 1 flushable after window end, got %d", len(flushable))
	}

	// A flushed window past its end is still listed, carrying the flag, so
	// the expiry sweep can remove the spent row.
	if err := repo.MarkFlushed(ctx, "key-1"); err != nil {
		t.Fatalf("Failed to mark flushed: %v", err)
	}
	flushable, err = repo.ListFlushable(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Failed to list flushable: %v", err)
	}
	if len(flushable) != 1 {
		t.Fatalf("Expected flushed-but-expired window to be listed, got %d", len(flushable))
	}
	if !flushable[0].Flushed {
		t.Error("Listed window should carry the flushed flag")
	}

	if err := repo.DeleteSuppression(ctx, "key-1"); err != nil {
		t.Fatalf("Failed to delete suppression: %v", err)
	}
	got, err = repo.GetSuppression(ctx, "key-1")
	if err != nil {
		t.Fatalf("Failed to get suppression: %v", err)
	}
	if got != nil {
		t.Error("Deleted suppression should be gone")
	}
}

func TestGetSuppression_MissingIsNil(t *testing.T) {
	repo := setupTestRepo(t)
	got, err := repo.GetSuppression(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Missing suppression should not error: %v", err)
	}
	if got != nil {
		t.Error("Missing suppression should be nil")
	}
}
