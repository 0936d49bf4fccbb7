package calendar

import (
	"regexp"
	"strings"
)

var (
	blockCloseRe = regexp.MustCompile(`(?i)</div>|<br\s*/?>`)
	tagRe        = regexp.MustCompile(`</?.*?>`)
)

// entityReplacer undoes the handful of entities Graph uses when it
// upgrades a text body to HTML.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&#43;", "+",
	"&quot;", `"`,
)

// StripHTML reduces an HTML event body back to the plain text it was
// written as: block closers become newlines, remaining tags are dropped,
// and common entities are decoded. CRLF pairs are formatting noise in
// Graph's HTML rendering, not content, and are removed outright.
func StripHTML(text string) string {
	text = blockCloseRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "")
	return strings.TrimSpace(text)
}
