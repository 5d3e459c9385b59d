// Package v1 defines the chat channel wire contract.
//
// It is shared between the channel client and the development server so
// both sides agree on frame shapes.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Inbound frame types (server -> client).
const (
	// TypeUserMessage echoes an accepted user message to every participant.
	TypeUserMessage = "user_message"
	// TypeAIChunk carries one streamed fragment of the assistant reply.
	TypeAIChunk = "ai_chunk"
	// TypeAIComplete marks the end of the assistant reply and names the stored message.
	TypeAIComplete = "ai_complete"
)

// MaxMessageBytes bounds the text of one outbound message.
const MaxMessageBytes = 16 << 10

// Inbound is any server frame. Only the fields relevant to Type are set.
type Inbound struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
}

// Validate performs structural validation for an Inbound frame.
func (m Inbound) Validate() error {
	switch m.Type {
	case "":
		return errors.New("missing field: type")
	case TypeUserMessage:
		if strings.TrimSpace(m.MessageID) == "" {
			return errors.New("user_message: missing field: message_id")
		}
		return nil
	case TypeAIChunk:
		return nil
	case TypeAIComplete:
		if strings.TrimSpace(m.MessageID) == "" {
			return errors.New("ai_complete: missing field: message_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", m.Type)
	}
}

// DecodeInbound parses and validates one server frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(raw, &m); err != nil {
		return Inbound{}, err
	}
	if err := m.Validate(); err != nil {
		return Inbound{}, err
	}
	return m, nil
}

// Outbound is the only client frame: a chat message.
type Outbound struct {
	Message string `json:"message"`
}

// Validate rejects empty, oversized or non-UTF-8 messages.
func (o Outbound) Validate() error {
	if strings.TrimSpace(o.Message) == "" {
		return errors.New("empty message")
	}
	if len(o.Message) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d bytes", MaxMessageBytes)
	}
	if !utf8.ValidString(o.Message) {
		return errors.New("message is not valid UTF-8")
	}
	return nil
}
