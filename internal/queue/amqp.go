package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrUnknownReceipt = errors.New("unknown receipt handle")

type AMQPOptions struct {
	URL   string
	Queue string
	// Wait bounds how long Receive blocks for the first delivery.
	Wait        time.Duration
	MaxMessages int
}

// AMQPSource consumes with manual acknowledgement. The broker holds each
// delivery unacknowledged until Ack or Release; the receipt handle is the
// delivery tag.
type AMQPSource struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	wait       time.Duration
	max        int

	mu      sync.Mutex
	pending map[string]amqp.Delivery
}

func DialAMQP(opts AMQPOptions) (*AMQPSource, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open a channel: %w", err)
	}

	prefetch := opts.MaxMessages
	if prefetch < 1 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := channel.Consume(opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume the queue: %w", err)
	}

	s := newAMQPSource(deliveries, opts.Wait, prefetch)
	s.conn = conn
	s.channel = channel
	return s, nil
}

func newAMQPSource(deliveries <-chan amqp.Delivery, wait time.Duration, max int) *AMQPSource {
	if max < 1 {
		max = 1
	}
	return &AMQPSource{
		deliveries: deliveries,
		wait:       wait,
		max:        max,
		pending:    make(map[string]amqp.Delivery),
	}
}

func (s *AMQPSource) Receive(ctx context.Context) ([]Message, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	var batch []Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, fmt.Errorf("%w: amqp delivery channel closed", ErrClosed)
		}
		batch = append(batch, s.track(d))
	}

	for len(batch) < s.max {
		select {
		case d, ok := <-s.deliveries:
			if !ok {
				// ErrClosed surfaces on the next Receive
				return batch, nil
			}
			batch = append(batch, s.track(d))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (s *AMQPSource) track(d amqp.Delivery) Message {
	handle := strconv.FormatUint(d.DeliveryTag, 10)
	s.mu.Lock()
	s.pending[handle] = d
	s.mu.Unlock()

	return Message{
		ID:            d.MessageId,
		ReceiptHandle: handle,
		Body:          d.Body,
		ReceiveCount:  receiveCount(d),
	}
}

// receiveCount reads the quorum queue delivery counter, falling back to the
// redelivered flag.
func receiveCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func (s *AMQPSource) take(msg Message) (amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pending[msg.ReceiptHandle]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("%w: %s", ErrUnknownReceipt, msg.ReceiptHandle)
	}
	delete(s.pending, msg.ReceiptHandle)
	return d, nil
}

func (s *AMQPSource) Ack(_ context.Context, msg Message) error {
	d, err := s.take(msg)
	if err != nil {
		return err
	}
	if err := d.Ack(false); err != nil {
		// keep the delivery so the ack can be retried
		s.mu.Lock()
		s.pending[msg.ReceiptHandle] = d
		s.mu.Unlock()
		return fmt.Errorf("ack delivery %s: %w", msg.ReceiptHandle, err)
	}
	return nil
}

func (s *AMQPSource) Release(_ context.Context, msg Message) error {
	d, err := s.take(msg)
	if err != nil {
		return err
	}
	return d.Nack(false, true)
}

// Extend is a no-op: AMQP deliveries stay with this consumer until acked or
// the channel closes.
func (s *AMQPSource) Extend(context.Context, Message, time.Duration) error {
	return nil
}

func (s *AMQPSource) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
