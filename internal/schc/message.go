package schc

import (
	"bytes"
	"encoding/hex"
	"unicode/utf8"
)

type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageHex  MessageKind = "hex"
)

// Message is the decoded representation of a reassembled payload.
type Message struct {
	Kind  MessageKind `json:"kind"`
	Value string      `json:"value"`
	// BestEffort marks a message decoded from bytes that failed verification.
	BestEffort bool `json:"bestEffort,omitempty"`
}

// IsText reports whether Value holds decoded text.
func (m Message) IsText() bool {
	return m.Kind == MessageText
}

// DecodeMessage renders the payload as text when it is valid UTF-8 once
// trailing NULs are dropped, and as lowercase hex of the raw bytes otherwise.
func DecodeMessage(data []byte) Message {
	text := bytes.TrimRight(data, "\x00")
	if utf8.Valid(text) {
		return Message{Kind: MessageText, Value: string(text)}
	}
	return Message{Kind: MessageHex, Value: hex.EncodeToString(data)}
}
