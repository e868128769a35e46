package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records frames written to a connection.
type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	failWrite bool
	closed    bool
	closeCode websocket.StatusCode
}

func (f *fakeTransport) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite || f.closed {
		return errors.New("fake transport: broken pipe")
	}
	f.frames = append(f.frames, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeTransport) code() websocket.StatusCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) delivered(t *testing.T) []v1.Delivered {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]v1.Delivered, 0, len(f.frames))
	for _, b := range f.frames {
		var d v1.Delivered
		if err := json.Unmarshal(b, &d); err != nil {
			t.Fatalf("decode frame %s: %v", b, err)
		}
		out = append(out, d)
	}
	return out
}

func newFakeConn(id UserID, session string) (*Connection, *fakeTransport) {
	tr := &fakeTransport{}
	return NewConnection(id, session, tr, 0), tr
}

// failingMailbox fails Enqueue for the listed recipients and delegates the rest.
type failingMailbox struct {
	*InMemoryMailbox
	fail map[UserID]bool
}

func (m *failingMailbox) Enqueue(ctx context.Context, recipient UserID, msg RoutedMessage) error {
	if m.fail[recipient] {
		return errors.Join(ErrStoreFailure, errors.New("fake: store down"))
	}
	return m.InMemoryMailbox.Enqueue(ctx, recipient, msg)
}

type failingDirectory struct{}

func (failingDirectory) ListUserIDs(context.Context) ([]UserID, error) {
	return nil, errors.New("fake: db down")
}

// blockingTransport parks every Write until the transport is closed, like a
// socket whose peer stopped reading. With blockClose set, Close parks too
// until release is called.
type blockingTransport struct {
	writing    chan struct{}
	closed     chan struct{}
	unblock    chan struct{}
	blockClose bool

	writeOnce   sync.Once
	closeOnce   sync.Once
	releaseOnce sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		writing: make(chan struct{}),
		closed:  make(chan struct{}),
		unblock: make(chan struct{}),
	}
}

func (b *blockingTransport) Write(ctx context.Context, _ websocket.MessageType, _ []byte) error {
	b.writeOnce.Do(func() { close(b.writing) })
	select {
	case <-b.closed:
		return errors.New("blocking transport: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingTransport) Close(websocket.StatusCode, string) error {
	b.closeOnce.Do(func() { close(b.closed) })
	if b.blockClose {
		<-b.unblock
	}
	return nil
}

func (b *blockingTransport) release() {
	b.releaseOnce.Do(func() { close(b.unblock) })
}
