/*
Package chat implements the conversation engine: sending messages, deriving an
ordered conversation view from the message log, and reconciling read receipts.

Messages live in the store's global message log under messages/<id>. The sent
timestamp is the store-assigned creation time and the id is minted server-side,
so client clocks never order a conversation.
*/
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"kwite/internal/app/store"
)

// ReplyRef is a value snapshot of the message being replied to, captured at
// send time. It stays intact even if the referenced message later changes.
type ReplyRef struct {
	// Sender is the folded handle of the quoted message's author.
	Sender string `json:"sender"`

	// Body is the quoted text as it was when the reply was sent.
	Body string `json:"body"`
}

// Message is one direct message between two users.
type Message struct {
	// ID is the server-minted message id, unique across the log.
	ID string `json:"id"`

	// Sender and Receiver are folded handles.
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`

	Body string `json:"body"`

	// SentAt is the store-assigned creation timestamp.
	SentAt time.Time `json:"sentAt"`

	// Read flips to true exactly once, when the receiver observes the message
	// in an open conversation.
	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	ReplyTo *ReplyRef `json:"replyTo,omitempty"`
}

// messageBody is the stored document shape. ID and SentAt are store-assigned
// metadata and are deliberately absent from the body.
type messageBody struct {
	Sender   string     `json:"sender"`
	Receiver string     `json:"receiver"`
	Body     string     `json:"body"`
	Read     bool       `json:"read"`
	ReadAt   *time.Time `json:"readAt,omitempty"`
	ReplyTo  *ReplyRef  `json:"replyTo,omitempty"`
}

// Encode serializes the message to its store document body.
func (m Message) Encode() ([]byte, error) {
	body := messageBody{
		Sender:   m.Sender,
		Receiver: m.Receiver,
		Body:     m.Body,
		Read:     m.Read,
		ReadAt:   m.ReadAt,
		ReplyTo:  m.ReplyTo,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("chat: encode message %s: %w", m.ID, err)
	}
	return data, nil
}

// DecodeMessage parses a message log document. The id comes from the key and
// the sent timestamp from the document's creation time.
func DecodeMessage(doc store.Document) (Message, error) {
	var body messageBody

	decoder := json.NewDecoder(bytes.NewReader(doc.Data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&body); err != nil {
		return Message{}, fmt.Errorf("chat: decode message %s: %w", doc.Key, err)
	}

	if body.Sender == "" || body.Receiver == "" {
		return Message{}, fmt.Errorf("chat: decode message %s: missing sender or receiver", doc.Key)
	}

	return Message{
		ID:       store.MessageID(doc.Key),
		Sender:   body.Sender,
		Receiver: body.Receiver,
		Body:     body.Body,
		SentAt:   doc.CreatedAt,
		Read:     body.Read,
		ReadAt:   body.ReadAt,
		ReplyTo:  body.ReplyTo,
	}, nil
}

// DecodeMessages parses a message log snapshot, skipping documents that fail
// to decode. A single corrupt record must not blank the whole conversation.
func DecodeMessages(docs []store.Document) []Message {
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := DecodeMessage(doc)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
