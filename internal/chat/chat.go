// Package chat defines the transport-neutral messages exchanged with chat
// users and staff.  A session id is the decimal chat id.
package chat

import (
	"context"
	"strconv"
	"time"
)

// Kind says what an inbound event carries.
type Kind string

const (
	KindText       Kind = "text"
	KindButton     Kind = "button"
	KindAttachment Kind = "attachment"
	KindTimeout    Kind = "timeout"
	KindPayment    Kind = "payment"
)

// Attachment is a file sent by a user or to one.  Received files only
// carry the transport FileID; generated files carry Data.
type Attachment struct {
	FileID string `json:"file_id,omitempty"`
	Name   string `json:"name,omitempty"`
	MIME   string `json:"mime,omitempty"`
	Data   []byte `json:"-"`
}

// IsImage reports whether the attachment should be sent as a photo.
func (a Attachment) IsImage() bool {
	switch a.MIME {
	case "image/png", "image/jpeg":
		return true
	}
	return false
}

// Inbound is one event for a session.  Payload is the text, the button
// value, or for KindPayment the payment status.
type Inbound struct {
	SessionID  string
	UserID     int64
	Kind       Kind
	Payload    string
	Attachment *Attachment
	MessageRef string
	Timestamp  time.Time
}

// Option is one button.  Value is what comes back when it is pressed.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Outbound is one message to a session.
type Outbound struct {
	SessionID   string
	Text        string
	Options     []Option
	Attachments []Attachment
}

// Sender delivers outbound messages.  Send returns a reference to the
// message carrying the options so its controls can be cleared later.
type Sender interface {
	Send(ctx context.Context, out Outbound) (messageRef string, err error)
	ClearControls(ctx context.Context, messageRef string) error
}

// SessionID returns the session id of a chat.
func SessionID(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// ChatID parses a session id back into the chat id.
func ChatID(sessionID string) (int64, error) { return strconv.ParseInt(sessionID, 10, 64) }
