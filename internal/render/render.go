// Package render turns stored message content into a client-facing body.
// The decision between Markdown and escaped plain text is made on every
// call; rendered output is never persisted.
package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/lalith-99/courier/internal/models"
)

const (
	ContentTypeHTML     = "text/html"
	ContentTypeMarkdown = "text/x-markdown"
)

// DefaultTrustedClients may always send Markdown, even into a plain-text realm.
var DefaultTrustedClients = []string{"API", "github_bot"}

type Renderer struct {
	md      goldmark.Markdown
	trusted map[string]bool
}

func New(trustedClients []string) *Renderer {
	if trustedClients == nil {
		trustedClients = DefaultTrustedClients
	}
	trusted := make(map[string]bool, len(trustedClients))
	for _, c := range trustedClients {
		trusted[c] = true
	}
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		trusted: trusted,
	}
}

// Render returns the HTML body for content as sent by client into realm.
func (r *Renderer) Render(content string, realm *models.Realm, client *models.Client) (string, string) {
	if realm != nil && realm.PlainTextOnly && !r.isTrusted(client) {
		return Linebreak(html.EscapeString(content)), ContentTypeHTML
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return Linebreak(html.EscapeString(content)), ContentTypeHTML
	}
	return buf.String(), ContentTypeHTML
}

// Raw is the unrendered variant.
func Raw(content string) (string, string) {
	return content, ContentTypeMarkdown
}

func (r *Renderer) isTrusted(client *models.Client) bool {
	return client != nil && r.trusted[client.Name]
}

// Linebreak maps paragraph breaks to <p/> and remaining newlines to <br/>.
func Linebreak(s string) string {
	s = strings.ReplaceAll(s, "\n\n", "<p/>")
	return strings.ReplaceAll(s, "\n", "<br/>")
}
