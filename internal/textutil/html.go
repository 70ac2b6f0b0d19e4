// Package textutil turns Stepik comment HTML into text fit for screening and
// for Telegram's HTML parse mode.
package textutil

import (
	"strings"

	"golang.org/x/net/html"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// tags that separate words when stripped
var breakingTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "tr": true, "td": true,
}

type segment struct {
	text string
	code bool
}

// segments splits raw HTML into plain-text runs and <pre><code> contents.
// Text is entity-decoded.
func segments(raw string) []segment {
	var (
		out    []segment
		buf    strings.Builder
		inPre  bool
		inCode bool
	)
	flush := func(code bool) {
		if buf.Len() > 0 || code {
			out = append(out, segment{text: buf.String(), code: code})
		}
		buf.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if inCode {
				flush(true)
			} else {
				flush(false)
			}
			return out

		case html.TextToken:
			buf.Write(z.Text())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "pre":
				inPre = true
			case tag == "code" && inPre:
				flush(false)
				inCode = true
			case breakingTags[tag] && !inCode:
				buf.WriteByte(' ')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "code" && inCode:
				flush(true)
				inCode = false
			case tag == "pre":
				inPre = false
			case breakingTags[tag] && !inCode:
				buf.WriteByte(' ')
			}
		}
	}
}

// CleanHTML strips markup except <pre><code> blocks, escapes the text for
// Telegram HTML and collapses whitespace outside code blocks.
func CleanHTML(raw string) string {
	var b strings.Builder
	for _, s := range segments(raw) {
		if s.code {
			b.WriteString("<pre><code>")
			b.WriteString(escaper.Replace(s.text))
			b.WriteString("</code></pre>")
			continue
		}
		b.WriteString(escaper.Replace(collapseSpace(s.text)))
	}
	return strings.TrimSpace(b.String())
}

// PlainText returns the human-written text of a comment: markup removed,
// entities decoded and code blocks dropped.
func PlainText(raw string) string {
	var parts []string
	for _, s := range segments(raw) {
		if s.code {
			continue
		}
		if t := collapseSpace(s.text); strings.TrimSpace(t) != "" {
			parts = append(parts, strings.TrimSpace(t))
		}
	}
	return strings.Join(parts, " ")
}

func collapseSpace(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			return " "
		}
		return ""
	}
	out := strings.Join(fields, " ")
	if strings.TrimLeft(s, " \t\r\n") != s {
		out = " " + out
	}
	if strings.TrimRight(s, " \t\r\n") != s {
		out += " "
	}
	return out
}
