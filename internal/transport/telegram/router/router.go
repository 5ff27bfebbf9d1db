// Package router dispatches chat updates to command, callback and free
// text handlers on a bounded worker pool.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// NotAuthorized is the reply sent to users outside the owner list.
const NotAuthorized = "❌ You are not authorized to use this bot."

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration
	// Hidden commands work but are left out of help and the menu.
	Hidden bool
	Handle HandlerFunc
}

type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update    transport.Update
	Chat      transport.ChatTarget
	FromID    int64
	FromName  string
	MessageID int
	Command   string
	Args      []string
	// ArgText is everything after the command word, spacing preserved.
	ArgText    string
	Text       string
	Payload    string
	CallbackID string
	ReqID      string
	Adapter    transport.Adapter
	Logger     logx.Logger
}

// Reply sends text to the request chat.
func (r *Request) Reply(ctx context.Context, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Edit replaces the message a callback came from. For other updates it
// sends a new message.
func (r *Request) Edit(ctx context.Context, text string, opt *transport.SendOptions) error {
	if r.CallbackID == "" || r.MessageID == 0 {
		_, err := r.Reply(ctx, text, opt)
		return err
	}
	return r.Adapter.EditText(ctx, transport.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}, text, opt)
}

type Router struct {
	log     logx.Logger
	adapter transport.Adapter

	mu        sync.RWMutex
	commands  map[string]Command
	order     []string
	callbacks map[string]CallbackRoute
	text      HandlerFunc
	owners    []int64

	jobs    chan func()
	workers int
}

type Option func(*Router)

// WithWorkers sets the handler pool size.
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithQueue sets the handler queue capacity.
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

func New(log logx.Logger, adapter transport.Adapter, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log,
		adapter:   adapter,
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		jobs:      make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
		if r.workers < 2 {
			r.workers = 2
		}
	}
	return r
}

// SetOwners replaces the authorized user list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) authorized(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry installs commands and callbacks. A help command is added
// unless one is supplied.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	commands := map[string]Command{}
	var order []string
	add := func(c Command) {
		name := normalize(c.Name)
		if name == "" || c.Handle == nil {
			return
		}
		if _, dup := commands[name]; dup {
			return
		}
		c.Name = name
		commands[name] = c
		order = append(order, name)
		for _, a := range c.Aliases {
			if a = normalize(a); a != "" {
				if _, taken := commands[a]; !taken {
					alias := c
					alias.Hidden = true
					commands[a] = alias
				}
			}
		}
	}
	for _, c := range cmds {
		add(c)
	}
	if _, ok := commands["help"]; !ok {
		add(Command{
			Name:        "help",
			Description: "Show available commands",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Reply(ctx, r.HelpText(), &transport.SendOptions{ParseMode: transport.ParseHTML, DisablePreview: true})
				return err
			},
		})
	}

	callbacks := map[string]CallbackRoute{}
	for _, cb := range cbs {
		s, a := strings.TrimSpace(cb.Scope), strings.TrimSpace(cb.Action)
		if s == "" || a == "" || cb.Handle == nil {
			continue
		}
		callbacks[s+":"+a] = cb
	}

	r.mu.Lock()
	r.commands = commands
	r.order = order
	r.callbacks = callbacks
	r.mu.Unlock()
}

// SetTextHandler handles messages that are not commands.
func (r *Router) SetTextHandler(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// Commands lists visible commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		if c := r.commands[name]; !c.Hidden {
			out = append(out, c)
		}
	}
	return out
}

// MenuCommands is the command list published to the platform menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	cmds := r.Commands()
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if name := sanitizeCommand(c.Name); name != "" {
			out = append(out, transport.BotCommand{Command: name, Description: c.Description})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command == "start" && out[j].Command != "start" })
	return out
}

// PublishMenu pushes MenuCommands to adapters that support a menu.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}

// Run consumes updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in handler job", logx.Int("worker", worker), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route resolves one update and queues its handler.
func (r *Router) Route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !r.authorized(msg.FromID) {
		r.log.Warn("unauthorized message", logx.Int64("from_id", msg.FromID), logx.String("username", msg.FromUsername))
		_, _ = r.adapter.SendText(ctx, chat, NotAuthorized, nil)
		return
	}

	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		MessageID: msg.ID,
		Text:      text,
		Adapter:   r.adapter,
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if strings.HasPrefix(text, "/") {
		word, rest := splitCommand(text)
		r.mu.RLock()
		cmd, ok := r.commands[word]
		r.mu.RUnlock()
		if !ok {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
			return
		}
		req.Command = cmd.Name
		req.ArgText = rest
		req.Args = strings.Fields(rest)
		h, timeout = cmd.Handle, cmd.Timeout
	} else {
		r.mu.RLock()
		h = r.text
		r.mu.RUnlock()
		if h == nil {
			return
		}
		req.Command = "text"
	}

	final := r.wrap(req, h, timeout)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up transport.Update) {
	cb := up.Callback
	scope, action, payload := ParseData(cb.Data)

	r.mu.RLock()
	route, ok := r.callbacks[scope+":"+action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !r.authorized(cb.FromID) {
		r.log.Warn("unauthorized callback", logx.Int64("from_id", cb.FromID))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, NotAuthorized)
		return
	}

	req := &Request{
		Update:     up,
		Chat:       transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:     cb.FromID,
		MessageID:  cb.MessageID,
		Command:    "cb:" + scope + ":" + action,
		Payload:    payload,
		CallbackID: cb.ID,
		Adapter:    r.adapter,
	}
	final := r.wrap(req, route.Handle, route.Timeout)
	if !r.enqueue(func() {
		_ = final(ctx, req)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (r *Router) wrap(req *Request, h HandlerFunc, timeout time.Duration) HandlerFunc {
	req.ReqID = newReqID()
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	return Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
}

// ParseData splits callback data of the form scope:action[:payload].
func ParseData(data string) (scope, action, payload string) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}

// splitCommand returns the lower-cased command word without slash or bot
// mention, and the remaining text.
func splitCommand(text string) (string, string) {
	text = strings.TrimPrefix(text, "/")
	word, rest := text, ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return normalize(word), rest
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
