// Package queue receives "new upload" messages from an at-least-once queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Receive once the source can no longer deliver
// messages. The consumer stops and leaves recovery to a process restart.
var ErrClosed = errors.New("queue source closed")

// Message is one delivery. ReceiptHandle must be presented to Ack it.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	// ReceiveCount is the delivery attempt number, 0 when unknown.
	ReceiveCount int
}

type Source interface {
	// Receive long-polls for up to one batch, returning an empty batch when
	// the wait elapses without messages.
	Receive(ctx context.Context) ([]Message, error)
	// Ack removes the message from the queue for good.
	Ack(ctx context.Context, msg Message) error
	// Release gives up on the message so the queue can redeliver it.
	Release(ctx context.Context, msg Message) error
	// Extend keeps the message invisible to other consumers for timeout.
	Extend(ctx context.Context, msg Message, timeout time.Duration) error
	Close() error
}
