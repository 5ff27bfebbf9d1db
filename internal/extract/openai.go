package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"remindbot/internal/todo"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = openai.GPT3Dot5Turbo
)

var ErrNoAPIKey = errors.New("openai api key is empty")

type LLMConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Location *time.Location
}

// LLM calls an OpenAI-compatible chat completions endpoint.
type LLM struct {
	cfg    LLMConfig
	client *openai.Client
}

func NewLLM(cfg LLMConfig) (*LLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &LLM{cfg: cfg, client: openai.NewClientWithConfig(oc)}, nil
}

type parsedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueTime     string `json:"due_time"`
	Priority    string `json:"priority"`
}

func (l *LLM) Extract(ctx context.Context, text string, now time.Time) (todo.Draft, bool, error) {
	now = now.In(l.cfg.Location)
	content, err := l.complete(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractPrompt(now)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return todo.Draft{}, false, err
	}
	content = stripFences(content)
	if content == "" || strings.EqualFold(content, "null") {
		return todo.Draft{}, false, nil
	}

	var p parsedTask
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return todo.Draft{}, false, fmt.Errorf("decode task json: %w", err)
	}
	if strings.TrimSpace(p.Title) == "" {
		return todo.Draft{}, false, nil
	}
	d := todo.Draft{Title: p.Title, Description: p.Description}
	if pr, ok := todo.ParsePriority(p.Priority); ok {
		d.Priority = pr
	}
	if p.DueTime != "" {
		due, err := parseDueTime(p.DueTime, l.cfg.Location)
		if err != nil {
			return todo.Draft{}, false, err
		}
		d.Due = due
	}
	return d, true, nil
}

func (l *LLM) Suggest(ctx context.Context, tasks []todo.Task, now time.Time) (string, error) {
	if len(tasks) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Create a productive daily schedule for these tasks:\n")
	for _, t := range tasks {
		b.WriteString("- " + t.Title)
		if t.HasDue() {
			b.WriteString(" (due " + t.Due.In(l.cfg.Location).Format("15:04") + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAvailable time: 9 AM to 6 PM\nInclude breaks and be realistic about time allocation.\nFormat as a simple, motivating schedule with times.")
	return l.complete(ctx, openai.ChatCompletionRequest{
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: b.String()}},
		MaxTokens:   400,
		Temperature: 0.7,
	})
}

func (l *LLM) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Model = l.cfg.Model
	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion failed: %s (http=%d)", apiErr.Message, apiErr.HTTPStatusCode)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func extractPrompt(now time.Time) string {
	today := now.Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	return `You are a task parser. Extract task information from natural language input.

Today's date is ` + today + ` and the current time is ` + now.Format("15:04") + ` (` + now.Location().String() + `).
Resolve relative dates like "today", "tomorrow" and "next week" against it.

Return ONLY a JSON object with these fields:
- title: string (required)
- description: string (optional)
- due_time: ISO 8601 local datetime without offset (optional, only if a time or date is mentioned)
- priority: "low"|"medium"|"high"|"urgent" (default "medium")

Priority rules:
- "urgent", "ASAP", "immediately", "critical" = "urgent"
- "high priority", "important", "must do" = "high"
- "low priority", "when I can", "not urgent" = "low"

If no task is mentioned, return null.

Examples:
"Remind me to call mom at 6 PM today" -> {"title": "Call mom", "due_time": "` + today + `T18:00:00", "priority": "medium"}
"URGENT: Submit assignment tomorrow at 9 AM" -> {"title": "Submit assignment", "due_time": "` + tomorrow + `T09:00:00", "priority": "urgent"}
"Buy groceries when I can" -> {"title": "Buy groceries", "priority": "low"}`
}

// parseDueTime accepts RFC 3339 or a local ISO datetime.
func parseDueTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized due_time %q", s)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
