package llm

import "strings"

// ExtractJSON pulls the JSON payload out of a completion response. A fenced
// block wins; otherwise the text from the first "{" to the last "}" is used.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	for _, fence := range []string{"```json", "```"} {
		i := strings.Index(s, fence)
		if i < 0 {
			continue
		}
		rest := s[i+len(fence):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	if end := strings.LastIndex(s, "}"); end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// RepairJSON fixes the usual defects of truncated model output: it drops
// "//" line comments, closes an unterminated string and appends the closers
// for any unbalanced "{" or "[" in nesting order.
func RepairJSON(s string) string {
	var (
		sb     strings.Builder
		stack  []byte
		inStr  bool
		escape bool
	)
	sb.Grow(len(s) + 4)

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inStr {
			sb.WriteByte(ch)
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch ch {
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					sb.WriteByte('\n')
				}
				continue
			}
		case '"':
			inStr = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if n := len(stack); n > 0 && matches(stack[n-1], ch) {
				stack = stack[:n-1]
			}
		}
		sb.WriteByte(ch)
	}

	if inStr {
		sb.WriteByte('"')
	}
	out := strings.TrimRight(sb.String(), " \t\r\n,")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

func matches(open, close byte) bool {
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
