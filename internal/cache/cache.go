// Package cache holds the shared key/value cache used for derived views:
// display recipients and rendered message dicts. Redis is the production
// backend; LocalStore serves single-process deployments.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Store is a byte-oriented cache. Get reports a miss with ok=false and a
// nil error.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func DisplayRecipientKey(recipientID int64) string {
	return "display_recipient:" + strconv.FormatInt(recipientID, 10)
}

// MessageViewKey is "message_dict:<id>:1" for the Markdown-rendered view and
// ":0" for the raw one.
func MessageViewKey(messageID int64, applyMarkdown bool) string {
	flag := "0"
	if applyMarkdown {
		flag = "1"
	}
	return "message_dict:" + strconv.FormatInt(messageID, 10) + ":" + flag
}
