package models

import "strings"

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ContentTypeText is the only content variant currently produced or rendered.
const ContentTypeText = "text"

// Content is one typed block of a message. Blocks with an unknown type are
// carried through but ignored when extracting text.
type Content struct {
	Type string `json:"$type"`
	Text string `json:"text"`
}

// TextContent builds a plain/markdown text block.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// JoinText concatenates the text blocks of contents in order.
func JoinText(contents []Content) string {
	if len(contents) == 1 && contents[0].Type == ContentTypeText {
		return contents[0].Text
	}
	var b strings.Builder
	for _, c := range contents {
		if c.Type != ContentTypeText {
			continue
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// Message is one transcript entry and also the shape of a streamed delta.
type Message struct {
	ID       string    `json:"messageId,omitempty"`
	Role     Role      `json:"role"`
	Complete bool      `json:"complete"`
	Contents []Content `json:"contents"`

	// Turn scopes ID to the conversation turn that produced the message. It is
	// assigned by the client and never travels on the wire.
	Turn string `json:"-"`
}

// NewTextMessage builds a message with a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Contents: []Content{TextContent(text)}}
}

// Text returns the rendered message text.
func (m Message) Text() string {
	return JoinText(m.Contents)
}

// Key is the reconciliation identity of a message.
type Key struct {
	Turn string
	ID   string
}

// Key returns the (turn, messageId) identity of m.
func (m Message) Key() Key {
	return Key{Turn: m.Turn, ID: m.ID}
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	out := m
	if m.Contents != nil {
		out.Contents = make([]Content, len(m.Contents))
		copy(out.Contents, m.Contents)
	}
	return out
}

// ErrorSignal is the payload of an in-band error frame.
type ErrorSignal struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func (e ErrorSignal) Error() string {
	if e.ErrorCode == "" {
		return e.Message
	}
	return e.ErrorCode + ": " + e.Message
}
