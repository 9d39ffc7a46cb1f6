package chat

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// PlainText strips all markup. Entities escaped by the policy are decoded
// again since message bodies are stored and rendered as plain text.
type PlainText struct {
	policy *bluemonday.Policy
}

func NewPlainText() *PlainText {
	return &PlainText{policy: bluemonday.StrictPolicy()}
}

func (p *PlainText) Sanitize(s string) string {
	return html.UnescapeString(p.policy.Sanitize(s))
}
