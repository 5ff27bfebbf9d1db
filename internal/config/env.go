package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvToken      = "TELEGRAM_BOT_TOKEN"
	EnvAuthorized = "AUTHORIZED_USER_ID"
	EnvOpenAIKey  = "OPENAI_API_KEY"
)

// ApplyEnv overrides secrets and the owner list from the environment.
// AUTHORIZED_USER_ID may hold several comma separated ids.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvOpenAIKey)); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvAuthorized)); v != "" {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: invalid user id %q", EnvAuthorized, part)
			}
			ids = append(ids, id)
		}
		c.Telegram.OwnerUserIDs = ids
	}
	return nil
}
