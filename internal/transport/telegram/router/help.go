package router

import (
	"html"
	"strings"
	"unicode"
)

// HelpText renders the visible commands as Telegram HTML.
func (r *Router) HelpText() string {
	var b strings.Builder
	b.WriteString("🆘 <b>Available Commands:</b>\n\n")
	for _, c := range r.Commands() {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("<code>" + html.EscapeString(usage) + "</code>")
		if c.Description != "" {
			b.WriteString(" - " + html.EscapeString(c.Description))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n💡 <b>Natural Language Examples:</b>\n")
	b.WriteString("• \"Remind me to submit report tomorrow at 2 PM\"\n")
	b.WriteString("• \"URGENT: call the bank today\"\n")
	b.WriteString("\nJust send me a message and I'll turn it into a task.")
	return b.String()
}

// sanitizeCommand converts a name into a menu-safe command: [a-z0-9_]{1,32}
// starting with a letter.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}
