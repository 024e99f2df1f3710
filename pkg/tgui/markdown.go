package tgui

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	reEscaped    = regexp.MustCompile("\\\\([_*\\[\\]()~`>#+\\-=|{}.!])")
	reNoFormat   = regexp.MustCompile(`%([^%]+)%`)
	reStash      = regexp.MustCompile("\x00(\\d+)\x00")
	reCodeBlock  = regexp.MustCompile("```([\\s\\S]*?)```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reBold2      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBold       = regexp.MustCompile(`\*([^*]+)\*`)
	reUnderline  = regexp.MustCompile(`__([^_]+)__`)
	reItalic     = regexp.MustCompile(`_([^_]+)_`)
	reStrike     = regexp.MustCompile(`~([^~]+)~`)
)

// Unescape strips MarkdownV2 backslash escaping: `\_` becomes `_`.
func Unescape(s string) string {
	return reEscaped.ReplaceAllString(s, "$1")
}

// MarkdownV2ToHTML converts a MarkdownV2-flavored text into Telegram HTML.
//
// Spans wrapped in %...% are copied verbatim (escaped, unformatted) and the
// percent signs are dropped. Backslash-escaped characters are kept literal.
// Everything else is HTML-escaped, then code blocks, inline code, links,
// bold, underline, italic and strike are turned into tags.
func MarkdownV2ToHTML(text string) H {
	var raw []string
	stash := func(s string) string {
		raw = append(raw, s)
		// No markup characters in the placeholder, so no rule can match across it.
		return fmt.Sprintf("\x00%d\x00", len(raw)-1)
	}
	text = reNoFormat.ReplaceAllStringFunc(text, func(m string) string { return stash(m[1 : len(m)-1]) })
	// Escaped characters are literal and must not open or close a span.
	text = reEscaped.ReplaceAllStringFunc(text, func(m string) string { return stash(m[1:]) })

	text = html.EscapeString(text)
	text = reCodeBlock.ReplaceAllString(text, "<pre><code>$1</code></pre>")
	text = reInlineCode.ReplaceAllString(text, "<code>$1</code>")
	text = reLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = reBold2.ReplaceAllString(text, "<b>$1</b>")
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reUnderline.ReplaceAllString(text, "<u>$1</u>")
	text = reItalic.ReplaceAllString(text, "<i>$1</i>")
	text = reStrike.ReplaceAllString(text, "<s>$1</s>")

	if len(raw) > 0 {
		text = reStash.ReplaceAllStringFunc(text, func(m string) string {
			idx, err := strconv.Atoi(strings.Trim(m, "\x00"))
			if err != nil || idx >= len(raw) {
				return m
			}
			return html.EscapeString(raw[idx])
		})
	}
	return H(text)
}
