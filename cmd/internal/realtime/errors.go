package realtime

import (
	"errors"
	"fmt"

	v1 "fintrack/shared/contracts/chat/v1"
)

var (
	// ErrEmptyMessage is returned when a chat message has no text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrNoRecipient is returned when a direct message names no recipient.
	ErrNoRecipient = errors.New("recipient not entered")

	// ErrUnknownRecipient is the sentinel behind UnknownRecipientError.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrDirectoryUnavailable is returned when the known-user listing cannot be read.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")

	// ErrStoreFailure marks a mailbox operation that failed; the message was not stored.
	ErrStoreFailure = errors.New("mailbox store failure")

	// ErrMailboxFull is returned (wrapped in ErrStoreFailure) when a recipient queue is at capacity.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrMailboxCorrupt is returned (wrapped in ErrStoreFailure) when drained entries cannot be decoded.
	ErrMailboxCorrupt = errors.New("mailbox entry corrupt")

	// ErrConnectionClosed is returned when writing to a connection that is no longer connected.
	ErrConnectionClosed = errors.New("connection closed")
)

// UnknownRecipientError reports that none of the requested recipients exist.
type UnknownRecipientError struct {
	IDs []UserID
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnknownRecipient.Error(), e.IDs)
}

func (e *UnknownRecipientError) Unwrap() error { return ErrUnknownRecipient }

// Notice returns the client-facing text; plural when more than one id was requested.
func (e *UnknownRecipientError) Notice() string {
	if len(e.IDs) > 1 {
		return v1.NoticeNoSuchUsers
	}
	return v1.NoticeNoSuchUser
}

// DeliveryError is a failed delivery to one target (neither live nor queued).
type DeliveryError struct {
	Target UserID
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
