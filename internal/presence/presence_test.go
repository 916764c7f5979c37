package presence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRecordValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		record  Record
		wantErr error
	}{
		{"valid", Record{User: "alice", ContactURI: "sip:alice@10.0.0.1:5060", ExpiresAt: now.Add(time.Minute)}, nil},
		{"empty user", Record{ContactURI: "sip:alice@10.0.0.1", ExpiresAt: now.Add(time.Minute)}, ErrEmptyUser},
		{"empty contact", Record{User: "alice", ExpiresAt: now.Add(time.Minute)}, ErrInvalidContact},
		{"expired", Record{User: "alice", ContactURI: "sip:alice@10.0.0.1", ExpiresAt: now.Add(-time.Second)}, ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record
			err := r.Validate(now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && r.ID != RecordID(r.User, r.ContactURI) {
				t.Errorf("ID = %q, want derived id", r.ID)
			}
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	live := Record{User: "alice", ContactURI: "sip:alice@10.0.0.1:5060", ExpiresAt: now.Add(time.Hour)}
	other := Record{User: "alice", ContactURI: "sip:alice@10.0.0.2:5060", ExpiresAt: now.Add(time.Hour), RegisteredAt: now.Add(time.Second)}
	if _, err := s.Register(ctx, live); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := s.Register(ctx, other); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := s.Register(ctx, Record{User: "bob", ContactURI: "sip:bob@10.0.0.3", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := s.RecordsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("RecordsByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecordsByUser() returned %d records, want 2", len(got))
	}

	// Refreshing keeps a single record per contact.
	live.ExpiresAt = now.Add(2 * time.Hour)
	if _, err := s.Register(ctx, live); err != nil {
		t.Fatalf("Register() refresh error = %v", err)
	}
	got, _ = s.RecordsByUser(ctx, "alice")
	if len(got) != 2 {
		t.Fatalf("after refresh RecordsByUser() returned %d records, want 2", len(got))
	}

	if err := s.Unregister(ctx, "alice", other.ContactURI); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	got, _ = s.RecordsByUser(ctx, "alice")
	if len(got) != 1 || got[0].ContactURI != live.ContactURI {
		t.Fatalf("after Unregister RecordsByUser() = %+v, want only %s", got, live.ContactURI)
	}

	none, err := s.RecordsByUser(ctx, "carol")
	if err != nil || len(none) != 0 {
		t.Errorf("RecordsByUser(carol) = %v, %v, want empty", none, err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStoreHidesAndSweepsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	_, _ = s.Register(ctx, Record{User: "alice", ContactURI: "sip:alice@10.0.0.1", ExpiresAt: now.Add(time.Minute)})

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	got, _ := s.RecordsByUser(ctx, "alice")
	if len(got) != 0 {
		t.Errorf("RecordsByUser() after expiry = %d records, want 0", len(got))
	}
	if n := s.sweep(); n != 1 {
		t.Errorf("sweep() = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	s, err := NewSQLStore(ctx, db, DialectSQLite)
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	now := time.Now()
	s.now = func() time.Time { return now.Add(3 * time.Hour) }
	n, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind() = %q", got)
	}
	lite := &SQLStore{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind() = %q", got)
	}
}

func TestDecodeRecords(t *testing.T) {
	now := time.Now()
	live, _ := json.Marshal(Record{ID: "1", User: "alice", ContactURI: "sip:a@h", ExpiresAt: now.Add(time.Minute)})
	dead, _ := json.Marshal(Record{ID: "2", User: "alice", ContactURI: "sip:b@h", ExpiresAt: now.Add(-time.Minute)})

	got := decodeRecords([]any{string(live), nil, "not-json", string(dead)}, now)
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("decodeRecords() = %+v, want only record 1", got)
	}
}

func TestRedisKeys(t *testing.T) {
	s := NewRedisStore(nil, "")
	if got := s.indexKey("alice"); got != "presence:alice:expiry" {
		t.Errorf("indexKey() = %q", got)
	}
	if got := s.bodyKey("alice"); got != "presence:alice:records" {
		t.Errorf("bodyKey() = %q", got)
	}
}
