package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

var due = time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)

func TestBuildEvent(t *testing.T) {
	t.Parallel()

	jkt, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ev := BuildEvent(todo.Task{ID: "t1", Title: "Dentist", Description: "bring card", Due: due}, jkt)

	if ev.Summary != "Dentist" || ev.Description != "bring card" {
		t.Fatalf("summary/description = %q/%q", ev.Summary, ev.Description)
	}
	if ev.Start.DateTime != "2024-07-01T22:00:00+07:00" || ev.End.DateTime != "2024-07-01T23:00:00+07:00" {
		t.Fatalf("start/end = %s/%s, want one hour in local time", ev.Start.DateTime, ev.End.DateTime)
	}
	if ev.Start.TimeZone != "Asia/Jakarta" {
		t.Fatalf("TimeZone = %s, want Asia/Jakarta", ev.Start.TimeZone)
	}
	if ev.Reminders.UseDefault || len(ev.Reminders.Overrides) != 1 || ev.Reminders.Overrides[0].Minutes != 15 {
		t.Fatalf("reminders = %+v, want single 15 minute popup", ev.Reminders)
	}
	if ev.ExtendedProperties.Private[taskIDProperty] != "t1" {
		t.Fatalf("private props = %v, want task id", ev.ExtendedProperties.Private)
	}
}

func newTestExporter(t *testing.T, h http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := gcal.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, "", time.UTC, logx.Nop())
}

func TestExport(t *testing.T) {
	t.Parallel()

	var body map[string]any
	g := newTestExporter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			t.Errorf("request = %s %s, want POST .../calendars/primary/events", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1","summary":"Dentist"}`))
	})

	id, err := g.Export(context.Background(), todo.Task{ID: "t1", Title: "Dentist", Due: due})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if id != "evt-1" {
		t.Fatalf("Export id = %q, want evt-1", id)
	}
	if body["summary"] != "Dentist" {
		t.Fatalf("sent summary = %v", body["summary"])
	}
	rem, _ := body["reminders"].(map[string]any)
	if v, ok := rem["useDefault"]; !ok || v != false {
		t.Fatalf("sent reminders = %v, want explicit useDefault=false", rem)
	}
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	g := newTestExporter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad event"}}`))
	})

	if _, err := g.Export(context.Background(), todo.Task{ID: "t1", Title: "x"}); !errors.Is(err, ErrNoDueTime) {
		t.Fatalf("Export undated err = %v, want ErrNoDueTime", err)
	}
	if _, err := g.Export(context.Background(), todo.Task{ID: "t1", Title: "x", Due: due}); err == nil {
		t.Fatal("Export err = nil, want API error")
	}
}

func TestNopExporter(t *testing.T) {
	t.Parallel()

	if id, err := (Nop{}).Export(context.Background(), todo.Task{}); id != "" || err != nil {
		t.Fatalf("Nop.Export = %q, %v", id, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "token.json")
	in := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: due}
	if err := SaveToken(path, in); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", fi.Mode().Perm())
	}
	out, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if out.AccessToken != "at" || out.RefreshToken != "rt" || !out.Expiry.Equal(due) {
		t.Fatalf("LoadToken = %+v", out)
	}
}

type seqSource struct{ toks []string }

func (s *seqSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: s.toks[0]}
	if len(s.toks) > 1 {
		s.toks = s.toks[1:]
	}
	return tok, nil
}

func TestSavingSourcePersistsRefresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token.json")
	src := &savingSource{base: &seqSource{toks: []string{"old", "new"}}, path: path, last: "old", log: logx.Nop()}

	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("token file written for unchanged token, stat err = %v", err)
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	got, err := LoadToken(path)
	if err != nil || got.AccessToken != "new" {
		t.Fatalf("saved token = %+v, %v, want new", got, err)
	}
}

func TestAuthCode(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  4/abc  \n": "4/abc",
		"http://localhost/?code=xyz&scope=calendar": "xyz",
		"": "",
	}
	for in, want := range tests {
		if got := AuthCode(in); got != want {
			t.Fatalf("AuthCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.Form.Get("code"); got != "the-code" {
			t.Errorf("code = %q, want the-code", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	oc := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: srv.URL},
	}
	path := filepath.Join(t.TempDir(), "token.json")
	var out strings.Builder
	err := Login(context.Background(), oc, path, strings.NewReader("http://localhost/?code=the-code\n"), &out)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.Contains(out.String(), "https://accounts.example.com/auth?") {
		t.Fatalf("output = %q, want consent URL", out.String())
	}
	tok, err := LoadToken(path)
	if err != nil || tok.RefreshToken != "rt" {
		t.Fatalf("saved token = %+v, %v", tok, err)
	}

	if err := Login(context.Background(), oc, path, strings.NewReader("\n"), &out); err == nil {
		t.Fatal("Login with empty code err = nil, want error")
	}
}

func TestOAuthConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	secrets := `{"installed":{"client_id":"cid","client_secret":"cs","redirect_uris":["http://localhost"],` +
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`
	if err := os.WriteFile(path, []byte(secrets), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	oc, err := OAuthConfig(path)
	if err != nil {
		t.Fatalf("OAuthConfig: %v", err)
	}
	if oc.ClientID != "cid" || len(oc.Scopes) != 1 || oc.Scopes[0] != gcal.CalendarEventsScope {
		t.Fatalf("OAuthConfig = %+v", oc)
	}
	if _, err := OAuthConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("OAuthConfig missing err = nil, want error")
	}
}
