package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"remindbot/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		mode  transport.ParseMode
		want  int
	}{
		{"short", "hello", 10, transport.ParseNone, 1},
		{"empty", "", 10, transport.ParseNone, 1},
		{"exact", strings.Repeat("a", 10), 10, transport.ParseNone, 1},
		{"hard cut", strings.Repeat("a", 25), 10, transport.ParseNone, 3},
		{"newline", "aaaaaaa\nbbbbbbb\nccc", 10, transport.ParseNone, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit, tt.mode)
			if len(got) != tt.want {
				t.Fatalf("chunks = %q, want %d chunks", got, tt.want)
			}
			for _, c := range got {
				if n := utf8.RuneCountInString(c); n > tt.limit {
					t.Fatalf("chunk %q has %d runes, limit %d", c, n, tt.limit)
				}
			}
		})
	}
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()

	in := "abcdefg<b>bold</b>"
	got := splitText(in, 9, transport.ParseHTML)
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q, want %q", got[0], "abcdefg")
	}
	if strings.Join(got, "") != in {
		t.Fatalf("joined = %q, want %q", strings.Join(got, ""), in)
	}
}

func TestInlineKeyboard(t *testing.T) {
	t.Parallel()

	if rm := inlineKeyboard(nil); rm != nil {
		t.Fatalf("empty rows = %+v, want nil", rm)
	}
	rm := inlineKeyboard([][]transport.Button{
		{{Text: "✅ Mark Complete", Data: "task:done:1"}, {Text: "", Data: "skip"}},
		{},
		{{Text: "🔕 Stop Reminders", Data: "task:stop:1"}},
	})
	if rm == nil || len(rm.InlineKeyboard) != 2 {
		t.Fatalf("keyboard = %+v, want 2 rows", rm)
	}
	if got := rm.InlineKeyboard[0]; len(got) != 1 || got[0].Data != "task:done:1" {
		t.Fatalf("row 0 = %+v", got)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	got := menuCommands([]transport.BotCommand{
		{Command: "/today", Description: "Tasks due today"},
		{Command: " "},
		{Command: "week"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "today" || got[1].Description != "week" {
		t.Fatalf("commands = %+v", got)
	}
	if menuHash(got) == menuHash(got[:1]) {
		t.Fatalf("hash did not change with the list")
	}
}
