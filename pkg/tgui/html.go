package tgui

import (
	"html"
	"strings"
)

// H is HTML that is already escaped for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as already-safe HTML.
func Raw(s string) H { return H(s) }

// B escapes s and wraps it in bold tags.
func B(s string) H { return H("<b>" + string(Esc(s)) + "</b>") }

// JoinH joins parts with sep, skipping blank parts.
func JoinH(sep string, parts ...H) H {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) != "" {
			kept = append(kept, string(p))
		}
	}
	return H(strings.Join(kept, sep))
}
