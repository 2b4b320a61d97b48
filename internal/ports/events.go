package ports

import "context"

// EventPublisher delivers relayed outbox events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
