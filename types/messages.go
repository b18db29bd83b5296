// Package types defines the wire messages exchanged with the browser
// extension and the request model built from them.
//
//nolint:revive // types is a common Go package naming convention
package types

import "encoding/json"

// MessageType is the envelope type discriminant.
type MessageType string

// Message types. new_text is the only inbound type; the rest are outbound.
const (
	MessageTypeNewText     MessageType = "new_text"
	MessageTypeTextUpdate  MessageType = "text_update"
	MessageTypeDeathNotice MessageType = "death_notice"
	MessageTypeError       MessageType = "error"
)

// Envelope is the JSON object carried by every frame.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RequestID is the peer's opaque request token. It holds the raw JSON
// encoding of the token so that it is echoed back byte-for-byte, whatever
// JSON type the extension chose.
type RequestID string

// MarshalJSON writes the token exactly as it was received.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON captures the raw token.
func (id *RequestID) UnmarshalJSON(b []byte) error {
	*id = RequestID(b)
	return nil
}

// Inbound is the closed set of messages the extension may send.
type Inbound interface {
	inbound()
	MessageType() MessageType
}

// Outbound is the closed set of messages the host may send.
type Outbound interface {
	outbound()
	MessageType() MessageType
}

// Prefs carries the user's editor preferences for one request.
type Prefs struct {
	// Extension is the file-extension hint, without the leading dot.
	Extension string `json:"extension"`
	// Editor is a JSON array of argument-template strings, itself encoded
	// as a JSON string.
	Editor string `json:"editor"`
}

// NewText asks the host to open Text in an external editor.
type NewText struct {
	ID    RequestID `json:"id"`
	Text  string    `json:"text"`
	URL   string    `json:"url"`
	Prefs Prefs     `json:"prefs"`
	// Caret is a character offset into Text.
	Caret int `json:"caret"`
}

func (*NewText) inbound() {}

// MessageType implements Inbound.
func (*NewText) MessageType() MessageType { return MessageTypeNewText }

// TextUpdate carries the current content of an edited file.
type TextUpdate struct {
	ID   RequestID `json:"id"`
	Text string    `json:"text"`
}

func (*TextUpdate) outbound() {}

// MessageType implements Outbound.
func (*TextUpdate) MessageType() MessageType { return MessageTypeTextUpdate }

// DeathNotice is the last message sent for a request.
type DeathNotice struct {
	ID RequestID `json:"id"`
}

func (*DeathNotice) outbound() {}

// MessageType implements Outbound.
func (*DeathNotice) MessageType() MessageType { return MessageTypeDeathNotice }

// ErrorNotice reports a session failure to the user.
type ErrorNotice struct {
	Error string `json:"error"`
}

func (*ErrorNotice) outbound() {}

// MessageType implements Outbound.
func (*ErrorNotice) MessageType() MessageType { return MessageTypeError }
