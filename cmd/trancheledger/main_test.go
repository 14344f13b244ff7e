package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"TrancheLedger/internal/core"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeMetrics_StopsCleanly(t *testing.T) {
	buf := &syncBuffer{}
	logger := zerolog.New(buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, "127.0.0.1:0", logger) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveMetrics: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}
	// The shutdown goroutine may still be logging; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("unexpected error log: %s", buf.String())
	}
}

func TestResolveAdmin(t *testing.T) {
	id := uuid.New()

	if _, err := resolveAdmin("", nil); err == nil {
		t.Error("cold start without admin: got nil error")
	}
	if _, err := resolveAdmin("not-a-uuid", nil); err == nil {
		t.Error("malformed admin: got nil error")
	}
	got, err := resolveAdmin(id.String(), nil)
	if err != nil || got != id {
		t.Errorf("configured admin: got %s, %v; want %s", got, err, id)
	}

	recorded := uuid.New()
	got, err = resolveAdmin(id.String(), &core.Snapshot{Admin: recorded})
	if err != nil || got != recorded {
		t.Errorf("snapshot admin: got %s, %v; want %s", got, err, recorded)
	}
}
