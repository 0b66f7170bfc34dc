package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// UserID identifies a registered account. Issued by the user service.
type UserID string

// EndpointID identifies one live transport connection.
type EndpointID string

// Session is the authenticated identity bound to a connection.
type Session struct {
	UserID UserID
	Name   string
}

type Attachment struct {
	PublicID string `json:"publicId" bson:"public_id"`
	URL      string `json:"url" bson:"url"`
}

type Sender struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// PendingMessage is the real-time projection of a message. Its ID is minted
// before persistence so delivery never waits on the store.
type PendingMessage struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	Sender         Sender       `json:"sender"`
	ConversationID string       `json:"conversationId"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// MessageRecord is what gets persisted. The store assigns id and timestamps.
type MessageRecord struct {
	Content        string
	Attachments    []Attachment
	Sender         UserID
	ConversationID string
}

// ---------------------------------------------
// Inbound payloads
// ---------------------------------------------

type NewMessageIn struct {
	ConversationID string      `json:"conversationId"`
	Members        []UserID    `json:"members"`
	Message        MessageBody `json:"message"`
}

// MessageBody accepts plain text, a bare attachment list, or an object with
// both.
type MessageBody struct {
	Content     string
	Attachments []Attachment
}

func (b *MessageBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = MessageBody{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = MessageBody{Content: s}
	case '[':
		var atts []Attachment
		if err := json.Unmarshal(data, &atts); err != nil {
			return err
		}
		*b = MessageBody{Attachments: atts}
	case '{':
		var obj struct {
			Content     string       `json:"content"`
			Attachments []Attachment `json:"attachments"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*b = MessageBody{Content: obj.Content, Attachments: obj.Attachments}
	default:
		return fmt.Errorf("message must be a string, an attachment list or an object")
	}
	return nil
}

func (b MessageBody) MarshalJSON() ([]byte, error) {
	if len(b.Attachments) == 0 {
		return json.Marshal(b.Content)
	}
	return json.Marshal(struct {
		Content     string       `json:"content,omitempty"`
		Attachments []Attachment `json:"attachments"`
	}{b.Content, b.Attachments})
}

type TypingIn struct {
	ConversationID string   `json:"conversationId"`
	Members        []UserID `json:"members"`
}

// MembershipIn announces a user entering or leaving a conversation view.
// ConversationID is optional.
type MembershipIn struct {
	UserID         UserID   `json:"userId"`
	ConversationID string   `json:"conversationId,omitempty"`
	Members        []UserID `json:"members"`
}

// ---------------------------------------------
// Outbound payloads
// ---------------------------------------------

type NewMessageOut struct {
	ConversationID string         `json:"conversationId"`
	Message        PendingMessage `json:"message"`
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type ErrorOut struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
