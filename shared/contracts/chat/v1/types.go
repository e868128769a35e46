// Package v1 defines the fintrack chat wire contract.
//
// Frames are bare JSON objects (no envelope): clients send ChatMessage,
// the server answers with Delivered or ErrorFrame.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Notice texts sent inside ErrorFrame (wire-stable).
const (
	NoticeEnterMessage       = "Enter message"
	NoticeRecipientMissing   = "Recipient not entered"
	NoticeNoSuchUser         = "No such user"
	NoticeNoSuchUsers        = "No such users"
	NoticeInvalidFormat      = "Invalid message format"
	NoticeInvalidJSON        = "Invalid json format"
	NoticeTokenError         = "Token error"
	NoticeTooManyMessages    = "Too many messages"
	NoticeTryAgain           = "Try again later"
	noticeNoUserPrefix       = "No user: "
	noticeDeliveryFailPrefix = "Delivery failed: "
)

var (
	// ErrInvalidJSON is returned when a frame is not valid JSON.
	ErrInvalidJSON = errors.New("invalid json")

	// ErrInvalidFormat is returned when a frame is JSON but does not match ChatMessage.
	ErrInvalidFormat = errors.New("invalid message format")
)

// ChatMessage is the client -> server frame.
type ChatMessage struct {
	Recipient []int64 `json:"recipient"`
	Message   string  `json:"message"`
	Group     bool    `json:"group"`
}

// Delivered is the server -> client frame carrying a routed chat message.
type Delivered struct {
	Sender  int64  `json:"sender"`
	Content string `json:"content"`
}

// ErrorFrame is the server -> client notice frame.
type ErrorFrame struct {
	Error string `json:"Error"`
}

// DecodeChatMessage parses one inbound frame.
// Syntax errors map to ErrInvalidJSON, shape errors to ErrInvalidFormat.
// Fields may be omitted but not null, and recipient ids may not be null.
func DecodeChatMessage(data []byte) (ChatMessage, error) {
	if !json.Valid(data) {
		return ChatMessage{}, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return ChatMessage{}, ErrInvalidFormat
	}
	for k, v := range fields {
		if isNull(v) && isChatField(k) {
			return ChatMessage{}, fmt.Errorf("%w: %s is null", ErrInvalidFormat, k)
		}
	}

	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	for k, v := range fields {
		if !strings.EqualFold(k, "recipient") {
			continue
		}
		var ids []json.RawMessage
		if err := json.Unmarshal(v, &ids); err != nil {
			return ChatMessage{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		for _, id := range ids {
			if isNull(id) {
				return ChatMessage{}, fmt.Errorf("%w: null recipient id", ErrInvalidFormat)
			}
		}
	}
	return m, nil
}

func isChatField(key string) bool {
	switch strings.ToLower(key) {
	case "recipient", "message", "group":
		return true
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// NoUserNotice is the per-target notice for a recipient missing from the user directory.
func NoUserNotice(id int64) string {
	return fmt.Sprintf("%s%d", noticeNoUserPrefix, id)
}

// DeliveryFailedNotice reports a target whose message could be neither delivered nor queued.
func DeliveryFailedNotice(id int64) string {
	return fmt.Sprintf("%s%d", noticeDeliveryFailPrefix, id)
}
