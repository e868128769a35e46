package realtime

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryMailbox is the dev fallback when Redis is not configured.
// Queues live for the process lifetime only.
type InMemoryMailbox struct {
	max int

	mu    sync.Mutex
	boxes map[UserID][]RoutedMessage
}

// NewInMemoryMailbox constructs a mailbox holding at most max entries per recipient.
func NewInMemoryMailbox(max int) *InMemoryMailbox {
	if max <= 0 {
		max = defaultMailboxMax
	}
	return &InMemoryMailbox{
		max:   max,
		boxes: make(map[UserID][]RoutedMessage),
	}
}

// Close is a noop for the in-memory mailbox.
func (m *InMemoryMailbox) Close() error { return nil }

// Enqueue appends msg, failing with ErrMailboxFull at capacity.
func (m *InMemoryMailbox) Enqueue(ctx context.Context, recipient UserID, msg RoutedMessage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.boxes[recipient]
	if len(q) >= m.max {
		return fmt.Errorf("%w: %w: recipient=%d", ErrStoreFailure, ErrMailboxFull, recipient)
	}
	m.boxes[recipient] = append(q, msg)
	return nil
}

// Drain hands over the whole queue and clears it under one lock.
func (m *InMemoryMailbox) Drain(ctx context.Context, recipient UserID) ([]RoutedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	m.mu.Lock()
	q := m.boxes[recipient]
	delete(m.boxes, recipient)
	m.mu.Unlock()

	return q, nil
}

// Restore prepends msgs. Capacity is not enforced: the entries were already accepted once.
func (m *InMemoryMailbox) Restore(ctx context.Context, recipient UserID, msgs []RoutedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := make([]RoutedMessage, 0, len(msgs)+len(m.boxes[recipient]))
	q = append(q, msgs...)
	q = append(q, m.boxes[recipient]...)
	m.boxes[recipient] = q
	return nil
}

// Len returns the queue length for recipient.
func (m *InMemoryMailbox) Len(recipient UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[recipient])
}
