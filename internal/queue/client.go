package queue

import "context"

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one received message. Ack removes it from the queue; a delivery
// that is never acknowledged is handed out again later.
type Delivery struct {
	ID           string
	Body         string
	ReceiveCount int
	Ack          func(ctx context.Context) error
}

// Consumer receives messages for worker processes. Receive blocks for up to
// the backend's long-poll interval and may return no deliveries.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
}
