package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckConfig(t *testing.T) {
	path := writeConfig(t, "c.toml", `
[telegram]
token = "x"
owner_user_ids = [1]

[storage]
driver = "memory"
`)
	out, err := execute(t, "check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out, "is valid") || !strings.Contains(out, "storage: memory") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"memory"}}`)
	t.Setenv("AUTHORIZED_USER_ID", "")
	if _, err := execute(t, "check-config", "-c", path); err == nil {
		t.Fatalf("config without owners accepted")
	}
}

func TestSweepOnEmptyStore(t *testing.T) {
	path := writeConfig(t, "c.json", `{"telegram":{"token":"x","owner_user_ids":[1]},"storage":{"driver":"memory"}}`)
	out, err := execute(t, "sweep", "-c", path)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "0 task(s) marked overdue") {
		t.Fatalf("output = %q", out)
	}
}

func TestCalendarLoginNeedsCredentials(t *testing.T) {
	path := writeConfig(t, "c.json", `{"telegram":{"token":"x","owner_user_ids":[1]}}`)
	_, err := execute(t, "calendar", "login", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "credentials_file") {
		t.Fatalf("err = %v, want credentials_file error", err)
	}
}
