package session

import "time"

// MessageType is the content kind of a message and the generation mode of a request.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
)

// Modes lists the selectable modes in display order.
var Modes = []MessageType{TypeText, TypeImage, TypeVideo}

// ParseMessageType reports whether s names a known message type.
func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(s) {
	case TypeText, TypeImage, TypeVideo:
		return MessageType(s), true
	}
	return "", false
}

// Next returns the mode following t, wrapping around.
func (t MessageType) Next() MessageType {
	for i, m := range Modes {
		if m == t {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return TypeText
}

// Sender identifies who authored a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message represents a single chat message. Content is literal text for
// TypeText and a fetchable URL for image/video replies.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Sender    Sender      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
}

// State is a point-in-time copy of a chat session
type State struct {
	ID       string      `json:"id"`
	Messages []Message   `json:"messages"`
	Input    string      `json:"input"`
	Mode     MessageType `json:"mode"`
	Loading  bool        `json:"loading"`
}
