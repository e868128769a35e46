package realtime

import "context"

// RoutedMessage is one delivered (or queued) chat payload.
type RoutedMessage struct {
	Sender  UserID `json:"sender"`
	Content string `json:"content"`
}

// Mailbox stores messages for users that are not connected.
//
// Requirements:
//   - FIFO per recipient, no deduplication
//   - Drain is atomic against concurrent Enqueue for the same recipient
//   - failures wrap ErrStoreFailure; nothing is dropped silently
type Mailbox interface {
	// Enqueue appends msg to the tail of recipient's queue.
	Enqueue(ctx context.Context, recipient UserID, msg RoutedMessage) error

	// Drain returns every queued message in FIFO order and empties the queue.
	Drain(ctx context.Context, recipient UserID) ([]RoutedMessage, error)

	// Restore puts msgs back at the head of recipient's queue, keeping their order.
	// It is used when a drained batch could not be written to the client.
	Restore(ctx context.Context, recipient UserID, msgs []RoutedMessage) error

	Close() error
}
