package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	edits    []string
	answered []string
	menu     []transport.BotCommand
}

func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

const owner = int64(7)

func message(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ID: 1, ChatID: from, FromID: from, Text: text}}
}

func callback(from int64, data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb", ChatID: from, FromID: from, MessageID: 3, Data: data}}
}

// drain runs every queued job inline.
func drain(r *Router) {
	for {
		select {
		case job := <-r.jobs:
			job()
		default:
			return
		}
	}
}

func newTestRouter(ad *fakeAdapter) (*Router, *[]*Request) {
	var got []*Request
	record := func(_ context.Context, req *Request) error {
		got = append(got, req)
		return nil
	}
	r := New(logx.Nop(), ad, []int64{owner})
	r.SetRegistry(
		[]Command{
			{Name: "today", Description: "Today's tasks", Handle: record},
			{Name: "due", Aliases: []string{"reschedule"}, Usage: "/due <id> <when>", Handle: record},
			{Name: "start", Description: "Get started", Handle: record},
			{Name: "boom", Hidden: true, Handle: func(context.Context, *Request) error { panic("boom") }},
		},
		[]CallbackRoute{{Scope: "task", Action: "done", Handle: record}},
	)
	r.SetTextHandler(record)
	return r, &got
}

func TestRouteCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		wantCmd  string
		wantArgs string
	}{
		{"/today", "today", ""},
		{"/TODAY@remind_bot", "today", ""},
		{"/due 1a2b  tomorrow 5pm", "due", "1a2b  tomorrow 5pm"},
		{"/reschedule 1a2b in 2 hours", "due", "1a2b in 2 hours"},
		{"buy milk", "text", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			ad := &fakeAdapter{}
			r, got := newTestRouter(ad)
			r.Route(context.Background(), message(owner, tt.text))
			drain(r)
			if len(*got) != 1 {
				t.Fatalf("handled = %d, want 1", len(*got))
			}
			req := (*got)[0]
			if req.Command != tt.wantCmd || req.ArgText != tt.wantArgs {
				t.Fatalf("cmd, args = %q, %q, want %q, %q", req.Command, req.ArgText, tt.wantCmd, tt.wantArgs)
			}
			if req.ReqID == "" || req.Logger.IsZero() {
				t.Fatalf("request not decorated: %+v", req)
			}
		})
	}
}

func TestRouteRejectsStrangers(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	r, got := newTestRouter(ad)
	r.Route(context.Background(), message(99, "/today"))
	r.Route(context.Background(), callback(99, "task:done:abc"))
	drain(r)
	if len(*got) != 0 {
		t.Fatalf("handled = %d, want 0", len(*got))
	}
	if len(ad.sent) != 1 || ad.sent[0] != NotAuthorized {
		t.Fatalf("sent = %q, want not authorized reply", ad.sent)
	}
	if len(ad.answered) != 1 || ad.answered[0] != NotAuthorized {
		t.Fatalf("answered = %q", ad.answered)
	}
}

func TestRouteUnknownCommand(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	r, got := newTestRouter(ad)
	r.Route(context.Background(), message(owner, "/nope"))
	drain(r)
	if len(*got) != 0 || len(ad.sent) != 1 || !strings.Contains(ad.sent[0], "/help") {
		t.Fatalf("handled = %d, sent = %q", len(*got), ad.sent)
	}
}

func TestRouteCallback(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	r, got := newTestRouter(ad)
	r.Route(context.Background(), callback(owner, "task:done:abc-123"))
	r.Route(context.Background(), callback(owner, "task:unknown"))
	drain(r)
	if len(*got) != 1 {
		t.Fatalf("handled = %d, want 1", len(*got))
	}
	req := (*got)[0]
	if req.Payload != "abc-123" || req.CallbackID != "cb" || req.MessageID != 3 {
		t.Fatalf("request = %+v", req)
	}
	if len(ad.answered) != 2 {
		t.Fatalf("answered = %d, want 2", len(ad.answered))
	}
	if err := req.Edit(context.Background(), "done", nil); err != nil || len(ad.edits) != 1 {
		t.Fatalf("Edit err = %v, edits = %q", err, ad.edits)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(&fakeAdapter{})
	h := Chain(func(context.Context, *Request) error { panic("x") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v, want panic error", err)
	}

	r.Route(context.Background(), message(owner, "/boom"))
	drain(r)
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	r, _ := newTestRouter(ad)
	help := r.HelpText()
	for _, want := range []string{"/today", "/due &lt;id&gt; &lt;when&gt;", "/help"} {
		if !strings.Contains(help, want) {
			t.Fatalf("help missing %q:\n%s", want, help)
		}
	}
	if strings.Contains(help, "boom") || strings.Contains(help, "reschedule") {
		t.Fatalf("help lists hidden entries:\n%s", help)
	}

	if err := r.PublishMenu(context.Background()); err != nil {
		t.Fatalf("PublishMenu: %v", err)
	}
	if len(ad.menu) != 4 || ad.menu[0].Command != "start" {
		t.Fatalf("menu = %+v", ad.menu)
	}
}

func TestParseData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in                     string
		scope, action, payload string
	}{
		{"task:done:a:b", "task", "done", "a:b"},
		{"task:pick", "task", "pick", ""},
		{"junk", "junk", "", ""},
	}
	for _, tt := range tests {
		s, a, p := ParseData(tt.in)
		if s != tt.scope || a != tt.action || p != tt.payload {
			t.Fatalf("ParseData(%q) = %q %q %q", tt.in, s, a, p)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Today":     "today",
		"due-date":  "due_date",
		"1st":       "cmd_1st",
		"  ":        "",
		"a b / c--": "a_b_c",
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
