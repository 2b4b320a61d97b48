package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

type fakeOutbox struct {
	mu           sync.Mutex
	records      []ports.OutboxRecord
	published    []uuid.UUID
	failed       []uuid.UUID
	deadLettered []uuid.UUID
}

func (f *fakeOutbox) ClaimUnpublished(_ context.Context, limit int, _ string, _ time.Time) ([]ports.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLettered = append(f.deadLettered, id)
	return nil
}

type recordingPublisher struct {
	failFor map[string]error
	keys    []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, partitionKey string) error {
	if err, ok := p.failFor[eventType]; ok {
		return err
	}
	p.keys = append(p.keys, partitionKey)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestOutboxWorkerProcessOnce(t *testing.T) {
	t.Parallel()

	ok := ports.OutboxRecord{OutboxID: uuid.New(), EventType: "tenant.registered", PartitionKey: "tenant-1"}
	retry := ports.OutboxRecord{OutboxID: uuid.New(), EventType: "tenant.member_added", RetryCount: 0}
	exhausted := ports.OutboxRecord{OutboxID: uuid.New(), EventType: "tenant.member_added", RetryCount: 2}
	stale := ports.OutboxRecord{OutboxID: uuid.New(), EventType: "tenant.registered", RetryCount: 3}

	outbox := &fakeOutbox{records: []ports.OutboxRecord{ok, retry, exhausted, stale}}
	publisher := &recordingPublisher{failFor: map[string]error{"tenant.member_added": errors.New("broker down")}}
	worker := NewOutboxWorker(discardLogger(), outbox, publisher, time.Second, 10, time.Minute, 3)

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if result.Published != 1 || result.Failed != 2 || result.DeadLettered != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(outbox.published) != 1 || outbox.published[0] != ok.OutboxID {
		t.Fatalf("expected %s published, got %v", ok.OutboxID, outbox.published)
	}
	if len(outbox.failed) != 1 || outbox.failed[0] != retry.OutboxID {
		t.Fatalf("expected %s failed, got %v", retry.OutboxID, outbox.failed)
	}
	if len(outbox.deadLettered) != 2 {
		t.Fatalf("expected two dead-lettered records, got %v", outbox.deadLettered)
	}
	if len(publisher.keys) != 1 || publisher.keys[0] != "tenant-1" {
		t.Fatalf("partition key not forwarded: %v", publisher.keys)
	}
}

func TestOutboxWorkerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	worker := NewOutboxWorker(discardLogger(), &fakeOutbox{}, &recordingPublisher{}, 10*time.Millisecond, 10, time.Minute, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := worker.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestKafkaPublisherTopicRouting(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{"tenant.registered": "access.tenants"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()

	if got := p.topicFor("tenant.registered"); got != "access.tenants" {
		t.Fatalf("mapped topic = %q", got)
	}
	if got := p.topicFor("tenant.member_added"); got != "tenant.member_added" {
		t.Fatalf("fallback topic = %q", got)
	}
}
