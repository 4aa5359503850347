package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type capturedEntry struct {
	level  Level
	msg    string
	fields map[string]interface{}
}

func captureOutput(entries *[]capturedEntry) Output {
	return FuncOutput(func(_ time.Time, level Level, _, msg string, fields map[string]interface{}) {
		*entries = append(*entries, capturedEntry{level, msg, fields})
	}, func() error { return nil })
}

func TestLevelFloor(t *testing.T) {
	var entries []capturedEntry
	l := Logger{Out: captureOutput(&entries), MinLevel: LevelWarn}

	l.Debugf("dropped")
	l.Msg("dropped too")
	l.Warn("kept")
	l.Error("kept too", os.ErrNotExist)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].level != LevelWarn || entries[1].level != LevelError {
		t.Errorf("wrong levels: %v, %v", entries[0].level, entries[1].level)
	}
}

func TestSensitiveFieldMasking(t *testing.T) {
	var entries []capturedEntry
	l := Logger{Out: captureOutput(&entries)}

	l.Msg("authenticating", "user", "bob", "password", "hunter2", "Token", "abc")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].fields
	if fields["password"] != maskedValue {
		t.Errorf("password not masked: %v", fields["password"])
	}
	if fields["Token"] != maskedValue {
		t.Errorf("Token not masked: %v", fields["Token"])
	}
	if fields["user"] != "bob" {
		t.Errorf("non-sensitive field changed: %v", fields["user"])
	}
}

func TestCustomFieldsBypassMask(t *testing.T) {
	var entries []capturedEntry
	l := Logger{Out: captureOutput(&entries), CustomFields: []string{"token"}}

	l.Msg("event", "token", "abc", "password", "hunter2")

	fields := entries[0].fields
	if fields["token"] != "abc" {
		t.Errorf("custom field was masked: %v", fields["token"])
	}
	if fields["password"] != maskedValue {
		t.Errorf("password not masked: %v", fields["password"])
	}
}

func TestJSONOutputShape(t *testing.T) {
	builder := strings.Builder{}
	out := JSONOutput(&builder)
	out.Write(time.Now(), LevelInfo, "mailer", "message sent", map[string]interface{}{"rcpt": "a@b.co"})

	line := strings.TrimSpace(builder.String())
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, line)
	}
	if doc["level"] != "info" || doc["msg"] != "message sent" || doc["rcpt"] != "a@b.co" {
		t.Errorf("wrong document contents: %v", doc)
	}
}

func TestTextOutputShape(t *testing.T) {
	builder := strings.Builder{}
	out := TextOutput(&builder, true)
	out.Write(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), LevelError, "", "send failed", map[string]interface{}{"code": "ECONNECTION"})

	line := builder.String()
	if !strings.HasPrefix(line, "[2024-03-01T12:00:00.000Z] ERROR: send failed") {
		t.Errorf("wrong prefix: %q", line)
	}
	if !strings.Contains(line, `"code":"ECONNECTION"`) {
		t.Errorf("fields not serialized: %q", line)
	}
}

func TestFileOutputAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mailer.log")

	out, err := FileOutput(path, "json")
	if err != nil {
		t.Fatal(err)
	}
	out.Write(time.Now(), LevelInfo, "", "first", nil)
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	out, err = FileOutput(path, "json")
	if err != nil {
		t.Fatal(err)
	}
	out.Write(time.Now(), LevelInfo, "", "second", nil)
	out.Close()

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(blob)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(blob))
	}
}

func TestMaskIdempotentOnCopy(t *testing.T) {
	// mask must not mutate the caller-visible payload.
	var entries []capturedEntry
	l := Logger{Out: captureOutput(&entries)}

	payload := []interface{}{"password", "hunter2"}
	l.Msg("event", payload...)

	if payload[1] != "hunter2" {
		t.Errorf("payload mutated: %v", payload[1])
	}
}

func TestZapBridge(t *testing.T) {
	var entries []capturedEntry
	l := Logger{Out: captureOutput(&entries), MinLevel: LevelInfo}

	zl := l.Zap()
	zl.Debug("dropped")
	zl.Info("through zap", zap.String("user", "bob"), zap.String("password", "hunter2"))

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].msg != "through zap" || entries[0].level != LevelInfo {
		t.Errorf("wrong entry: %+v", entries[0])
	}
	if entries[0].fields["user"] != "bob" {
		t.Errorf("field lost: %v", entries[0].fields)
	}
	if entries[0].fields["password"] != maskedValue {
		t.Errorf("sensitive field not masked through bridge: %v", entries[0].fields["password"])
	}
}
