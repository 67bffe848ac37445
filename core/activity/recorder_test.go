package activity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"merchant-guard/config"
	"merchant-guard/core/store"
)

type memRecorder struct {
	mu    sync.Mutex
	items []Attempt
	block chan struct{}
	err   error
}

func (m *memRecorder) Record(_ context.Context, a Attempt) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, a)
	return m.err
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func TestStoreRecorderPersists(t *testing.T) {
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "activity.db")}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(context.Background(), db, store.Dialect(cfg), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	attempts := store.NewAccessAttemptsStore(db)
	rec := NewStoreRecorder(attempts)
	pid := "p1"
	if err := rec.Record(context.Background(), Attempt{PrincipalID: &pid, Guard: "api", IP: "10.0.0.1", Outcome: OutcomeDeny, ReasonCode: "RATE_LIMIT_EXCEEDED", Status: 429}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Record(context.Background(), Attempt{Guard: "web", Outcome: OutcomeDeny, ReasonCode: "UNAUTHENTICATED", Status: 401}); err != nil {
		t.Fatalf("record anonymous: %v", err)
	}
	rows, err := attempts.List(context.Background(), store.AttemptFilter{})
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d (%v)", len(rows), err)
	}
}

func TestAsyncRecorderDrainsOnClose(t *testing.T) {
	next := &memRecorder{}
	r := NewAsyncRecorder(next, 16, time.Second, nil)
	for i := 0; i < 10; i++ {
		if err := r.Record(context.Background(), Attempt{Guard: "api"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if next.len() != 10 || r.Written() != 10 {
		t.Fatalf("expected 10 drained attempts, got %d", next.len())
	}
	if err := r.Record(context.Background(), Attempt{}); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("expected ErrRecorderClosed, got %v", err)
	}
}

func TestAsyncRecorderDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	next := &memRecorder{block: block}
	r := NewAsyncRecorder(next, 2, time.Second, nil)
	for i := 0; i < 10; i++ {
		_ = r.Record(context.Background(), Attempt{Guard: "api"})
	}
	if r.Dropped() < 7 {
		t.Fatalf("expected at least 7 drops with one in flight and two queued, got %d", r.Dropped())
	}
	close(block)
	_ = r.Close(context.Background())
	if int64(next.len())+r.Dropped() != 10 {
		t.Fatalf("every attempt must be written or dropped: written=%d dropped=%d", next.len(), r.Dropped())
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &memRecorder{}
	bad := &memRecorder{err: errors.New("boom")}
	err := Multi{ok, nil, bad}.Record(context.Background(), Attempt{Guard: "api"})
	if err == nil || ok.len() != 1 || bad.len() != 1 {
		t.Fatalf("expected both recorders called and error joined, got %v", err)
	}
}

func TestLogRecorderNeverFails(t *testing.T) {
	if err := NewLogRecorder(nil).Record(context.Background(), Attempt{Outcome: OutcomeDeny}); err != nil {
		t.Fatalf("log recorder must not fail: %v", err)
	}
}
