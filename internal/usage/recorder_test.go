package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
)

type brokenStore struct{}

func (brokenStore) AppendQueryRecord(context.Context, *models.QueryRecord) error {
	return errors.New("database is locked")
}

func (brokenStore) ListQueryRecords(context.Context, string, int) ([]*models.QueryRecord, error) {
	return nil, errors.New("database is locked")
}

func TestRecorder_RecordAndHistory(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := NewRecorder(store, nil)
	r.Record(ctx, models.QueryRecord{TenantID: "t1", Query: "first", Answer: "a1", PromptTokens: 10, CompletionTokens: 2, Cost: 0.1})
	r.Record(ctx, models.QueryRecord{TenantID: "t1", Query: "second", Answer: "a2"})
	r.Record(ctx, models.QueryRecord{TenantID: "t2", Query: "other", Answer: "a3"})

	got, err := r.History(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].Query != "second" || got[1].Query != "first" {
		t.Errorf("want newest first, got %q, %q", got[0].Query, got[1].Query)
	}
	if got[1].ID == "" || got[1].PromptTokens != 10 || got[1].Cost != 0.1 {
		t.Errorf("record = %+v", got[1])
	}

	one, _ := r.History(ctx, "t1", 1)
	if len(one) != 1 {
		t.Errorf("limit ignored: %d", len(one))
	}
}

func TestRecorder_failuresAreSwallowedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(brokenStore{}, zap.New(core))

	r.Record(context.Background(), models.QueryRecord{TenantID: "t1", Query: "q", Answer: "a"})

	if logs.Len() != 1 {
		t.Fatalf("want one warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "failed to record usage" || entry.ContextMap()["tenant"] != "t1" {
		t.Errorf("log entry = %+v", entry)
	}
}
