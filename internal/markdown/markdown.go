// Package markdown converts AI-authored Markdown-like text into safe HTML.
// Literal HTML in the input is escaped, a small whitelist of transforms is
// applied, and math spans ($$...$$ and $...$) are kept byte-identical so the
// client-side typesetter receives exactly what the model wrote.
package markdown

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	blockMathRe  = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	inlineMathRe = regexp.MustCompile(`\$([^$\n]+?)\$`)

	h3Re     = regexp.MustCompile(`(?m)^### (.+)$`)
	h2Re     = regexp.MustCompile(`(?m)^## (.+)$`)
	h1Re     = regexp.MustCompile(`(?m)^# (.+)$`)
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
	codeRe   = regexp.MustCompile("`(.+?)`")

	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// Renderer renders Markdown-like text to safe HTML. Each renderer carries a
// random nonce in its math placeholders so input text cannot collide with
// them.
type Renderer struct {
	nonce string
}

// NewRenderer creates a renderer with a fresh placeholder nonce.
func NewRenderer() *Renderer {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return &Renderer{nonce: hex.EncodeToString(buf)}
}

// Render converts raw text to safe HTML.
//
// Math spans are extracted first (block math before inline math, non-greedy
// per span) and substituted with placeholder tokens. The remaining text is
// HTML-escaped, then headings, bold, italic, and inline code are applied,
// newlines become <br>, and finally the math spans are restored verbatim.
// Unterminated math delimiters never consume the rest of the document: an
// unmatched $ or $$ simply renders literally. Inline math does not cross
// line boundaries.
func (r *Renderer) Render(raw string) string {
	if raw == "" {
		return ""
	}

	var spans []string
	protect := func(m string) string {
		spans = append(spans, m)
		return r.placeholder(len(spans) - 1)
	}

	text := blockMathRe.ReplaceAllStringFunc(raw, protect)
	text = inlineMathRe.ReplaceAllStringFunc(text, protect)

	text = htmlEscaper.Replace(text)

	text = h3Re.ReplaceAllString(text, "<h3>$1</h3>")
	text = h2Re.ReplaceAllString(text, "<h2>$1</h2>")
	text = h1Re.ReplaceAllString(text, "<h1>$1</h1>")
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicRe.ReplaceAllString(text, "<em>$1</em>")
	text = codeRe.ReplaceAllString(text, "<code>$1</code>")

	text = strings.ReplaceAll(text, "\n", "<br>")

	// Restore math spans exactly as they appeared in the input.
	for i, span := range spans {
		text = strings.Replace(text, r.placeholder(i), span, 1)
	}

	return text
}

func (r *Renderer) placeholder(i int) string {
	return fmt.Sprintf("@@math-%s-%d@@", r.nonce, i)
}
