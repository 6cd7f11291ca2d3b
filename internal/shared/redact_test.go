package shared

import (
	"strings"
	"testing"
)

func TestRedact_BotAuthorization(t *testing.T) {
	input := "Bot abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bot [REDACTED]" {
		t.Fatalf("expected 'Bot [REDACTED]', got %q", result)
	}
}

func TestRedact_DiscordToken(t *testing.T) {
	input := "login failed for MTA4NzY1NDMyMTA5ODc2NTQzMg.GhXyZa.abcdefghijklmnopqrstuvwxyz0123456789"
	result := Redact(input)
	if strings.Contains(result, "GhXyZa") {
		t.Fatalf("expected discord token redaction, got %q", result)
	}
}

func TestRedact_TelegramToken(t *testing.T) {
	input := "token 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1 rejected"
	result := Redact(input)
	if strings.Contains(result, "AAHdqTcv") {
		t.Fatalf("expected telegram token redaction, got %q", result)
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "created 19 channels for Steve's Archive"
	if result := Redact(input); result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
}

func TestRedact_Empty(t *testing.T) {
	if result := Redact(""); result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestRedactEnvValue(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"DISCORD_TOKEN", "some-secret", "[REDACTED]"},
		{"telegram_token", "abc123", "[REDACTED]"},
		{"password", "s3cret", "[REDACTED]"},
		{"ARCHIVIST_BIND_ADDR", "127.0.0.1:18790", "127.0.0.1:18790"},
		{"ARCHIVIST_LOG_LEVEL", "info", "info"},
	}
	for _, tc := range cases {
		if got := RedactEnvValue(tc.key, tc.value); got != tc.expect {
			t.Fatalf("RedactEnvValue(%q) = %q, want %q", tc.key, got, tc.expect)
		}
	}
}
