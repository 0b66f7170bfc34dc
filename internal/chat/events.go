package chat

import "encoding/json"

const (
	EventNewMessage         = "new-message"
	EventNewMessageAlert    = "new-message-alert"
	EventTypingStart        = "typing-start"
	EventTypingStop         = "typing-stop"
	EventConversationJoined = "conversation-joined"
	EventConversationExited = "conversation-exited"
	EventOnlineUsers        = "online-users"
	EventError              = "error"

	// Raised by REST-side collaborators and relayed through the hub.
	EventAlert        = "alert"
	EventRefetchChats = "refetch-chats"
	EventNewRequest   = "new-request"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, &ValidationError{Field: "event", Reason: "missing event name"}
	}
	return f, nil
}
