// Package calendar copies tasks with a due time into Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

const (
	EventDuration   = time.Hour
	PopupMinutes    = 15
	taskIDProperty  = "remindbot_task_id"
	defaultCalendar = "primary"
)

var ErrNoDueTime = errors.New("task has no due time")

type Config struct {
	Enabled         bool
	CredentialsFile string
	TokenFile       string
	CalendarID      string
}

// Nop discards exports.
type Nop struct{}

func (Nop) Export(context.Context, todo.Task) (string, error) { return "", nil }

// Google inserts one event per exported task.
type Google struct {
	srv        *gcal.Service
	calendarID string
	loc        *time.Location
	log        logx.Logger
}

// NewGoogle builds an exporter from the OAuth client secrets and a token
// previously saved by Login.
func NewGoogle(ctx context.Context, cfg Config, loc *time.Location, log logx.Logger) (*Google, error) {
	oc, err := OAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load calendar token (run `remindbot calendar login`): %w", err)
	}
	ts := &savingSource{
		base: oauth2.ReuseTokenSource(tok, oc.TokenSource(ctx, tok)),
		path: cfg.TokenFile,
		last: tok.AccessToken,
		log:  log,
	}
	srv, err := gcal.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewWithService(srv, cfg.CalendarID, loc, log), nil
}

func NewWithService(srv *gcal.Service, calendarID string, loc *time.Location, log logx.Logger) *Google {
	if strings.TrimSpace(calendarID) == "" {
		calendarID = defaultCalendar
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Google{srv: srv, calendarID: calendarID, loc: loc, log: log.Named("calendar")}
}

// Export inserts the task as an event and returns the event id.
func (g *Google) Export(ctx context.Context, t todo.Task) (string, error) {
	if !t.HasDue() {
		return "", ErrNoDueTime
	}
	ev, err := g.srv.Events.Insert(g.calendarID, BuildEvent(t, g.loc)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	g.log.Debug("calendar event inserted", logx.String("task", t.ID), logx.String("event", ev.Id))
	return ev.Id, nil
}

// BuildEvent maps a task to a one-hour event with a popup reminder.
func BuildEvent(t todo.Task, loc *time.Location) *gcal.Event {
	start := t.Due.In(loc)
	return &gcal.Event{
		Summary:     t.Title,
		Description: t.Description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: loc.String()},
		End:         &gcal.EventDateTime{DateTime: start.Add(EventDuration).Format(time.RFC3339), TimeZone: loc.String()},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       []*gcal.EventReminder{{Method: "popup", Minutes: PopupMinutes}},
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: t.ID},
		},
	}
}

// OAuthConfig reads the client secrets downloaded from the Google console.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", credentialsFile, err)
	}
	oc, err := google.ConfigFromJSON(b, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return oc, nil
}
