package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/stream"
)

type sliceStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	lastQ   Query
}

func (s *sliceStore) AppendAudit(_ context.Context, e *Entry) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *sliceStore) ListAudit(_ context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQ = q
	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0 && len(out) < q.Limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	t.Cleanup(restore)
	return &buf
}

var actor = &auth.Identity{UserID: "user-42", Role: auth.RoleAdmin, OrganizationID: "org-a"}

func TestRecordPersistsAndLogs(t *testing.T) {
	buf := captureLogs(t)
	store := &sliceStore{}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecorder(store, WithClock(func() time.Time { return now }))

	ctx := WithRequestID(context.Background(), "req-123")
	entry, err := rec.Record(ctx, actor, ActionCreateTask, ResourceTask, "task-1", map[string]string{"title": "T", "category": "work"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one stored entry, got %d", len(store.entries))
	}
	if entry.UserID != "user-42" || entry.Action != ActionCreateTask || !entry.CreatedAt.Equal(now) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	var details map[string]string
	if err := json.Unmarshal([]byte(entry.Details), &details); err != nil || details["title"] != "T" {
		t.Fatalf("details not serialized JSON: %q (%v)", entry.Details, err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["event"] != "CREATE_TASK" || line["request_id"] != "req-123" || line["user_id"] != "user-42" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestRecordFailureIsReportedNotHidden(t *testing.T) {
	buf := captureLogs(t)
	store := &sliceStore{err: errors.New("disk full")}
	rec := NewRecorder(store)

	_, err := rec.Record(context.Background(), actor, ActionDeleteTask, ResourceTask, "task-1", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "audit write failed") {
		t.Fatalf("failure not logged: %s", buf.String())
	}
}

func TestRecordRequiresActor(t *testing.T) {
	rec := NewRecorder(&sliceStore{})
	if _, err := rec.Record(context.Background(), nil, ActionCreateTask, ResourceTask, "x", nil); err == nil {
		t.Fatal("expected error for missing actor")
	}
}

func TestRecordPublishesToHub(t *testing.T) {
	captureLogs(t)
	hub := stream.New[Entry](4)
	rec := NewRecorder(&sliceStore{}, WithHub(hub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := rec.Subscribe(ctx)

	if _, err := rec.Record(context.Background(), actor, ActionUpdateTask, ResourceTask, "task-9", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	select {
	case e := <-ch:
		if e.ResourceID != "task-9" || e.Details != "{}" {
			t.Fatalf("unexpected published entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("entry not published")
	}
}

func TestListClampsLimit(t *testing.T) {
	store := &sliceStore{}
	rec := NewRecorder(store)
	if _, err := rec.List(context.Background(), []string{"a"}, 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if store.lastQ.Limit != DefaultLimit {
		t.Fatalf("limit = %d", store.lastQ.Limit)
	}
	if _, err := rec.List(context.Background(), nil, 5000); err != nil {
		t.Fatalf("List: %v", err)
	}
	if store.lastQ.Limit != DefaultLimit || store.lastQ.UserIDs != nil {
		t.Fatalf("unexpected query %+v", store.lastQ)
	}
	if rec.Subscribe(context.Background()) != nil {
		t.Fatal("expected nil channel without hub")
	}
}
