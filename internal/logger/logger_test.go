package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Pretty: false, Output: &buf}), &buf
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
}

func TestNew_Component(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: InfoLevel, Output: &buf, Component: "cdp"})
	l.Info("hello")

	if !strings.Contains(buf.String(), `"component":"cdp"`) {
		t.Errorf("Output should contain component: %s", buf.String())
	}
}

func TestLogger_Fields(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Logger) *Logger
		want  string
	}{
		{"component", func(l *Logger) *Logger { return l.WithComponent("spider") }, `"component":"spider"`},
		{"field", func(l *Logger) *Logger { return l.WithField("custom", "value") }, `"custom":"value"`},
		{"url", func(l *Logger) *Logger { return l.WithURL("https://example.com/a") }, "https://example.com/a"},
		{"depth", func(l *Logger) *Logger { return l.WithDepth(4) }, `"depth":4`},
		{"method", func(l *Logger) *Logger { return l.WithMethod("Page.navigate") }, `"method":"Page.navigate"`},
		{"error", func(l *Logger) *Logger { return l.WithError(errors.New("boom")) }, "boom"},
		{"duration", func(l *Logger) *Logger { return l.WithDuration(time.Second) }, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(InfoLevel)
			tt.apply(l).Info("message")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Output = %s, want it to contain %s", buf.String(), tt.want)
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel)

	l.Debug("debug hidden")
	l.Infof("info %s", "hidden")
	l.Warnf("warn %d", 1)
	l.Error("error shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Output should not contain messages below warn: %s", output)
	}
	if !strings.Contains(output, "warn 1") || !strings.Contains(output, "error shown") {
		t.Errorf("Output should contain warn and error: %s", output)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.Debug("before")
	l.SetLevel(DebugLevel)
	l.Debugf("after %s", "change")

	if strings.Contains(buf.String(), "before") {
		t.Error("debug message should be filtered before SetLevel")
	}
	if !strings.Contains(buf.String(), "after change") {
		t.Error("debug message should appear after SetLevel")
	}
}

func TestLogger_PageEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.PageEvent("https://example.com", 1, 200, 150*time.Millisecond, nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["status_code"] != float64(200) {
		t.Errorf("status_code = %v, want 200", entry["status_code"])
	}

	buf.Reset()
	l.PageEvent("https://example.com/x", 2, 0, 0, errors.New("nav failed"))
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("failed page should log at warn: %s", buf.String())
	}
}

func TestLogger_CommandEvent(t *testing.T) {
	l, buf := newBufferLogger(DebugLevel)

	l.CommandEvent(7, "Runtime.evaluate", 3*time.Millisecond, nil)

	output := buf.String()
	if !strings.Contains(output, `"id":7`) || !strings.Contains(output, "Runtime.evaluate") {
		t.Errorf("Output = %s, want id and method", output)
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.StatsEvent(map[string]interface{}{"pages": 3})

	if !strings.Contains(buf.String(), `"pages":3`) {
		t.Errorf("Output = %s, want pages field", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded")
	l.WithURL("x").Errorf("also %s", "discarded")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"bogus", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
