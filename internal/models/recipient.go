package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// RecipientType selects which table Recipient.TypeID points into.
type RecipientType int16

const (
	RecipientPersonal RecipientType = 1
	RecipientStream   RecipientType = 2
	RecipientHuddle   RecipientType = 3
)

// String returns the log name of the type ("personal", "stream", "huddle").
func (t RecipientType) String() string {
	switch t {
	case RecipientPersonal:
		return "personal"
	case RecipientStream:
		return "stream"
	case RecipientHuddle:
		return "huddle"
	default:
		return fmt.Sprintf("RecipientType(%d)", int16(t))
	}
}

// Valid reports whether t is one of the three known variants.
func (t RecipientType) Valid() bool {
	return t == RecipientPersonal || t == RecipientStream || t == RecipientHuddle
}

// Recipient is the canonical addressable target. There is exactly one
// Recipient per (Type, TypeID).
type Recipient struct {
	ID     int64         `json:"id"`
	Type   RecipientType `json:"type"`
	TypeID int64         `json:"type_id"`
}

// DisplayUser is one entry of a personal or huddle display recipient.
type DisplayUser struct {
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	ShortName string `json:"short_name"`
}

// DisplayRecipient is the read-only projection of a Recipient: the stream
// name for streams, the member list (ordered by email) otherwise.
//
// It serializes to a JSON string or a JSON array accordingly.
type DisplayRecipient struct {
	StreamName string
	Users      []DisplayUser
}

// IsStream reports whether the projection describes a stream.
func (d DisplayRecipient) IsStream() bool {
	return d.Users == nil
}

func (d DisplayRecipient) MarshalJSON() ([]byte, error) {
	if d.IsStream() {
		return json.Marshal(d.StreamName)
	}
	return json.Marshal(d.Users)
}

func (d *DisplayRecipient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		d.Users = nil
		return json.Unmarshal(data, &d.StreamName)
	}
	users := make([]DisplayUser, 0)
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("decode display recipient: %w", err)
	}
	d.StreamName = ""
	d.Users = users
	return nil
}
