package chat

import (
	"strings"

	"mailchat_server/core/domain"

	"golang.org/x/net/html"
)

// FormatEmails renders emails as context blocks separated by blank lines.
// HTML bodies are reduced to plain text.
func FormatEmails(emails []*domain.Email) string {
	blocks := make([]string, 0, len(emails))
	for _, e := range emails {
		if e == nil {
			continue
		}
		c := *e
		c.Body = HTMLToText(c.Body)
		blocks = append(blocks, c.String())
	}
	return strings.Join(blocks, "\n\n")
}

// FormatPlainText renders one email as header lines, a blank line and the
// plain-text body.
func FormatPlainText(e *domain.Email) string {
	var sb strings.Builder
	for _, h := range [][2]string{{"From", e.From}, {"To", e.To}, {"Date", e.Date}, {"Subject", e.Subject}} {
		if h[1] != "" {
			sb.WriteString(h[0] + ": " + h[1] + "\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(HTMLToText(e.Body))
	return sb.String()
}

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "li": {}, "tr": {}, "table": {}, "blockquote": {}, "pre": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
}

// HTMLToText drops markup, decodes entities and breaks lines at block
// closers and <br>. Script and style contents are removed. Lines are trimmed
// and runs of blank lines collapse to one.
func HTMLToText(body string) string {
	if body == "" {
		return ""
	}

	var sb strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(body))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				sb.WriteByte('\n')
			case "script", "style":
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
				continue
			}
			if _, ok := blockTags[tag]; ok {
				sb.WriteByte('\n')
			}
		}
	}

	text := strings.ReplaceAll(sb.String(), "\u00a0", " ")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
