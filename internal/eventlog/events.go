package eventlog

import (
	"github.com/lalith-99/courier/internal/models"
)

const (
	TypeRealmCreated                      = "realm_created"
	TypeUserCreated                       = "user_created"
	TypeUserActivated                     = "user_activated"
	TypeUserDeactivated                   = "user_deactivated"
	TypeUserChangeFullName                = "user_change_full_name"
	TypeEnableDesktopNotificationsChanged = "enable_desktop_notifications_changed"
	TypeSubscriptionAdded                 = "subscription_added"
	TypeSubscriptionRemoved               = "subscription_removed"
	TypeSubscriptionProperty              = "subscription_property"
	TypeMessageSent                       = "message_sent"
)

// Header is embedded in every event. Encode fills Type from the event's
// Kind and stamps Timestamp (seconds since the epoch) when it is zero.
type Header struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func (h *Header) header() *Header { return h }

// Event is implemented only by the structs in this file.
type Event interface {
	Kind() string
	header() *Header
}

type RealmCreated struct {
	Header
	Domain string `json:"domain"`
}

func (*RealmCreated) Kind() string { return TypeRealmCreated }

type UserCreated struct {
	Header
	User      string `json:"user"`
	FullName  string `json:"full_name"`
	ShortName string `json:"short_name"`
	Domain    string `json:"domain"`
}

func (*UserCreated) Kind() string { return TypeUserCreated }

type UserActivated struct {
	Header
	User string `json:"user"`
}

func (*UserActivated) Kind() string { return TypeUserActivated }

type UserDeactivated struct {
	Header
	User string `json:"user"`
}

func (*UserDeactivated) Kind() string { return TypeUserDeactivated }

type UserChangeFullName struct {
	Header
	User     string `json:"user"`
	FullName string `json:"full_name"`
}

func (*UserChangeFullName) Kind() string { return TypeUserChangeFullName }

type EnableDesktopNotificationsChanged struct {
	Header
	User                       string `json:"user"`
	EnableDesktopNotifications bool   `json:"enable_desktop_notifications"`
}

func (*EnableDesktopNotificationsChanged) Kind() string {
	return TypeEnableDesktopNotificationsChanged
}

// SubscriptionAdded records a stream subscription becoming active. Name is
// the stream name and Domain the stream's realm.
type SubscriptionAdded struct {
	Header
	User   string `json:"user"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (*SubscriptionAdded) Kind() string { return TypeSubscriptionAdded }

type SubscriptionRemoved struct {
	Header
	User   string `json:"user"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (*SubscriptionRemoved) Kind() string { return TypeSubscriptionRemoved }

type SubscriptionProperty struct {
	Header
	Property   string `json:"property"`
	User       string `json:"user"`
	StreamName string `json:"stream_name"`
	Value      string `json:"value"`
}

func (*SubscriptionProperty) Kind() string { return TypeSubscriptionProperty }

// MessageSent is enough to replay a send: sender identity, recipient as
// displayed at send time, and the body.
type MessageSent struct {
	Header
	SenderEmail     string                  `json:"sender_email"`
	SenderFullName  string                  `json:"sender_full_name"`
	SenderShortName string                  `json:"sender_short_name"`
	SendingClient   string                  `json:"sending_client"`
	RecipientType   string                  `json:"recipient_type"`
	Recipient       models.DisplayRecipient `json:"recipient"`
	Subject         string                  `json:"subject"`
	Content         string                  `json:"content"`
}

func (*MessageSent) Kind() string { return TypeMessageSent }

func newEvent(kind string) Event {
	switch kind {
	case TypeRealmCreated:
		return &RealmCreated{}
	case TypeUserCreated:
		return &UserCreated{}
	case TypeUserActivated:
		return &UserActivated{}
	case TypeUserDeactivated:
		return &UserDeactivated{}
	case TypeUserChangeFullName:
		return &UserChangeFullName{}
	case TypeEnableDesktopNotificationsChanged:
		return &EnableDesktopNotificationsChanged{}
	case TypeSubscriptionAdded:
		return &SubscriptionAdded{}
	case TypeSubscriptionRemoved:
		return &SubscriptionRemoved{}
	case TypeSubscriptionProperty:
		return &SubscriptionProperty{}
	case TypeMessageSent:
		return &MessageSent{}
	}
	return nil
}
