package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ctf-assistant/internal/models"
	"ctf-assistant/internal/modules/audit"
	"ctf-assistant/internal/storage"
)

type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) ClearSessionState(ctx context.Context) (bool, error) {
	return false, errors.New("connection reset")
}

type closeFailStore struct {
	*storage.MemoryStore
	closed int
}

func (s *closeFailStore) Close(ctx context.Context) error {
	s.closed++
	return errors.New("close timed out")
}

func TestRunClearsOnce(t *testing.T) {
	store := storage.NewMemory()
	store.PutSessionState()
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, store, zap.NewNop(), &out); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if out.String() != "session state cleared\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := run(ctx, store, zap.NewNop(), &out); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.String() != "no session found\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	logs, err := store.ListAuditLogs(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != audit.EventSessionCleared {
		t.Fatalf("expected one session audit entry, got %+v", logs)
	}
}

func TestRunLeavesIntegrationsAlone(t *testing.T) {
	store := storage.NewMemory()
	store.PutSessionState()
	ctx := context.Background()
	if _, err := store.CreateIntegration(ctx, models.NewIntegration{GuildID: "g", ChannelID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := run(ctx, store, zap.NewNop(), &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	records, err := store.ListIntegrations(ctx, models.IntegrationFilter{})
	if err != nil || len(records) != 1 {
		t.Fatalf("integrations touched: %v %d", err, len(records))
	}
}

func TestRunReportsErrors(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), brokenStore{storage.NewMemory()}, zap.NewNop(), &out)
	if err == nil {
		t.Fatalf("expected error")
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed on failure, got %q", out.String())
	}
}

func TestCloseFailureFailsCommand(t *testing.T) {
	store := &closeFailStore{MemoryStore: storage.NewMemory()}
	store.PutSessionState()

	var out bytes.Buffer
	err := clearAndClose(context.Background(), store, zap.NewNop(), &out)
	if err == nil {
		t.Fatalf("expected close error to be returned")
	}
	if store.closed != 1 {
		t.Fatalf("expected one close, got %d", store.closed)
	}
	if out.String() != "session state cleared\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestClearErrorWinsOverCloseError(t *testing.T) {
	store := &closeFailStore{MemoryStore: storage.NewMemory()}
	err := clearAndClose(context.Background(), brokenStoreCloser{store}, zap.NewNop(), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected the clear error, got %v", err)
	}
	if store.closed != 1 {
		t.Fatalf("store should still be closed, got %d", store.closed)
	}
}

type brokenStoreCloser struct {
	*closeFailStore
}

func (brokenStoreCloser) ClearSessionState(ctx context.Context) (bool, error) {
	return false, errors.New("connection reset")
}
