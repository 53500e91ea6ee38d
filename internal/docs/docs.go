// Package docs renders markdown to HTML for the monitor dashboard and
// outgoing mail bodies, the two consumers that need a formatted body
// rather than raw markdown source.
package docs

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// RenderHTML converts markdown source to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("docs: render markdown: %w", err)
	}
	return buf.String(), nil
}
