package service

import (
	"context"

	"github.com/iliyamo/book-catalog/internal/queue"
)

// EventPublisher delivers auth events. Delivery is best effort: the
// service logs failures and never fails a request because of them.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.AuthEvent) error { return nil }
