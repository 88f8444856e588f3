package models

import (
	"time"
)

// Realm is the tenant boundary. Every user and stream belongs to exactly one realm.
// Domain is globally unique.
type Realm struct {
	ID            int64     `json:"id"`
	Domain        string    `json:"domain"`
	PlainTextOnly bool      `json:"plain_text_only"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserProfile is a person within a realm.
//
// Pointer is the last-read message position; -1 means "nothing read yet".
// Users are never hard-deleted: deactivation flips IsActive, and inactive
// accounts stop receiving delivery markers.
type UserProfile struct {
	ID                         int64     `json:"id"`
	RealmID                    int64     `json:"realm_id"`
	Email                      string    `json:"email"`
	FullName                   string    `json:"full_name"`
	ShortName                  string    `json:"short_name"`
	PasswordHash               string    `json:"-"`
	APIKey                     string    `json:"-"`
	Pointer                    int64     `json:"pointer"`
	LastPointerUpdater         string    `json:"last_pointer_updater"`
	IsActive                   bool      `json:"is_active"`
	EnableDesktopNotifications bool      `json:"enable_desktop_notifications"`
	DateJoined                 time.Time `json:"date_joined"`
}

// Client is a named software client ("API", "Internal", "website", ...).
type Client struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Stream is a named channel inside a realm. Names are unique per realm,
// compared case-insensitively.
type Stream struct {
	ID      int64  `json:"id"`
	RealmID int64  `json:"realm_id"`
	Name    string `json:"name"`
}

// Huddle is an ad-hoc group identified by the hash of its member set.
type Huddle struct {
	ID   int64  `json:"id"`
	Hash string `json:"huddle_hash"`
}

// Subscription links a user to a recipient. Unsubscribing sets Active to
// false; rows are never deleted.
type Subscription struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	RecipientID int64  `json:"recipient_id"`
	Active      bool   `json:"active"`
	Color       string `json:"color"`
}

// Message is one chat message. Immutable once persisted.
type Message struct {
	ID              int64     `json:"id"`
	SenderID        int64     `json:"sender_id"`
	RecipientID     int64     `json:"recipient_id"`
	Subject         string    `json:"subject"`
	Content         string    `json:"content"`
	PubDate         time.Time `json:"pub_date"`
	SendingClientID int64     `json:"sending_client_id"`
}

// UserMessage is the per-user delivery marker. Its existence is what
// "this user received this message" means.
type UserMessage struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	MessageID int64 `json:"message_id"`
	Archived  bool  `json:"archived"`
}

// DefaultStream lists the streams new users of a realm are subscribed to.
type DefaultStream struct {
	ID       int64 `json:"id"`
	RealmID  int64 `json:"realm_id"`
	StreamID int64 `json:"stream_id"`
}
