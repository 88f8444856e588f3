// Package push carries new-message notifications from the delivery engine
// to the real-time gateway. Client is the sending side; Hub is a reference
// gateway that fans rendered messages out to websocket connections.
package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/lalith-99/courier/internal/views"
)

const NotifyPath = "/notify_new_message"

// Rendered holds both renderings of one message, keyed by content type on
// the wire.
type Rendered struct {
	HTML     *views.MessageView `json:"text/html"`
	Markdown *views.MessageView `json:"text/x-markdown"`
}

type Notification struct {
	MessageID int64
	Rendered  Rendered
	// UserIDs is every resolved recipient, including deactivated ones.
	UserIDs []int64
}

type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewClient posts to baseURL + "/notify_new_message". timeout bounds each
// request end to end.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + NotifyPath,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
	}
}

func encodeUsers(ids []int64) ([]byte, error) {
	users := make([]string, len(ids))
	for i, id := range ids {
		users[i] = strconv.FormatInt(id, 10)
	}
	return json.Marshal(users)
}

// NotifyNewMessage sends one form-encoded POST. Any transport error or
// non-2xx status is returned.
func (c *Client) NotifyNewMessage(ctx context.Context, n Notification) error {
	rendered, err := json.Marshal(n.Rendered)
	if err != nil {
		return fmt.Errorf("encode rendered message: %w", err)
	}
	users, err := encodeUsers(n.UserIDs)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("message", strconv.FormatInt(n.MessageID, 10))
	form.Set("rendered", string(rendered))
	form.Set("users", string(users))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post push notification: status %d", resp.StatusCode)
	}
	return nil
}
