package render

import (
	"html"
	"html/template"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer cleans bot-supplied markup before it reaches a page or a terminal.
type Sanitizer struct {
	html  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewSanitizer builds the policies. Policies are safe for concurrent use once built.
func NewSanitizer() *Sanitizer {
	ugc := bluemonday.UGCPolicy()
	ugc.AllowElements("div", "span")
	ugc.RequireNoFollowOnLinks(true)
	ugc.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{
		html:  ugc,
		plain: bluemonday.StrictPolicy(),
	}
}

// HTML strips scripts, event handlers and dangerous URLs and keeps benign formatting.
func (s *Sanitizer) HTML(markup string) template.HTML {
	// #nosec G203 -- output has been through the UGC policy.
	return template.HTML(s.html.Sanitize(markup))
}

// Plain removes all markup and decodes entities for terminal display.
// Block boundaries become line breaks. Escape sequences and control
// characters are dropped after decoding, so "&#27;" cannot reach the terminal.
func (s *Sanitizer) Plain(markup string) string {
	text := html.UnescapeString(s.plain.Sanitize(blockBreaks.Replace(markup)))
	return strings.TrimSpace(StripControl(text))
}

// StripControl removes ANSI escape sequences and every C0/C1 control
// character except newline and tab.
func StripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(text))
}

var blockBreaks = strings.NewReplacer(
	"</p>", "</p>\n",
	"</div>", "</div>\n",
	"</li>", "</li>\n",
	"</tr>", "</tr>\n",
	"<br>", "<br>\n",
	"<br/>", "<br/>\n",
	"</h1>", "</h1>\n",
	"</h2>", "</h2>\n",
	"</h3>", "</h3>\n",
)
