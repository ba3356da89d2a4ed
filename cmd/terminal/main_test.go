package main

import (
	"context"
	"path/filepath"
	"testing"

	"caixa/backend/internal/config"
)

func TestOpenQueueStoreBolt(t *testing.T) {
	kv, closeFn, err := openQueueStore(config.Config{QueueBackend: "bolt", QueuePath: filepath.Join(t.TempDir(), "q.db")})
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	defer closeFn()

	if err := kv.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestOpenQueueStoreRejectsUnknownBackend(t *testing.T) {
	if _, _, err := openQueueStore(config.Config{QueueBackend: "sqlite"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
	if _, _, err := openQueueStore(config.Config{QueueBackend: "redis"}); err == nil {
		t.Fatalf("expected redis backend without address to fail")
	}
}

func TestOpenQueueStoreMemory(t *testing.T) {
	kv, closeFn, err := openQueueStore(config.Config{QueueBackend: "memory"})
	if err != nil || kv == nil {
		t.Fatalf("open memory store: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
