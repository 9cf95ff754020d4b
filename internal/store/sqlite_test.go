package store

import (
	"context"
	"testing"
	"time"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(sessionID string, expiresIn time.Duration) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		SessionID: sessionID,
		PhoneHash: "a1b2c3d4e5f60718",
		Transcript: []domain.TranscriptEntry{
			{Speaker: domain.SpeakerAgent, Text: "hello, this is your assistant"},
			{Speaker: domain.SpeakerHuman, Text: "hi"},
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiresIn),
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := testRecord("sess_1", time.Hour)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PhoneHash != rec.PhoneHash {
		t.Fatalf("phone hash mismatch: %q vs %q", got.PhoneHash, rec.PhoneHash)
	}
	if len(got.Transcript) != 2 || got.Transcript[0].Speaker != domain.SpeakerAgent {
		t.Fatalf("unexpected transcript: %+v", got.Transcript)
	}
	if got.ExpiresAt.Unix() != rec.ExpiresAt.Unix() {
		t.Fatalf("expiry mismatch: %v vs %v", got.ExpiresAt, rec.ExpiresAt)
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "sess_none"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := testRecord("sess_1", time.Hour)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec.Transcript = append(rec.Transcript, domain.TranscriptEntry{
		Speaker: domain.SpeakerHuman, Text: "one more thing",
	})
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := s.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Transcript) != 3 {
		t.Fatalf("expected 3 transcript entries, got %d", len(got.Transcript))
	}

	all, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert should keep one row, got %d", len(all))
	}
}

func TestSQLiteStoreExpiredRowsBehaveAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Save(ctx, testRecord("sess_old", -time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, testRecord("sess_live", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := s.Get(ctx, "sess_old"); err != ErrNotFound {
		t.Fatalf("expired record should read as absent, got %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != "sess_live" {
		t.Fatalf("unexpected active set: %+v", active)
	}
}

func TestSQLiteStoreCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, rec := range []*domain.ConversationRecord{
		testRecord("sess_a", -time.Hour),
		testRecord("sess_b", -time.Minute),
		testRecord("sess_c", time.Hour),
	} {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reaped rows, got %d", n)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(active))
	}
}

func TestSQLiteStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Save(ctx, testRecord("sess_1", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Delete(ctx, "sess_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "sess_1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "sess_1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
