package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	l, err := New(&Config{
		Level:    LevelInfo,
		Format:   FormatJSON,
		Output:   "file",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Info("hello", "answer", 42)
	l.Debug("filtered out")

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"msg":"hello"`) {
		t.Errorf("expected info record, got: %s", s)
	}
	if !strings.Contains(s, `"component":"`) && !strings.Contains(s, `"answer":42`) {
		t.Errorf("expected structured attrs, got: %s", s)
	}
	if strings.Contains(s, "filtered out") {
		t.Error("debug record should be filtered at info level")
	}
}

func TestRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rot.log")

	rf, err := newRotatingFile(logPath, 128)
	if err != nil {
		t.Fatalf("newRotatingFile failed: %v", err)
	}
	defer rf.Close()

	line := strings.Repeat("x", 100) + "\n"
	if _, err := rf.Write([]byte(line)); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := rf.Write([]byte(line)); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	if _, err := os.Stat(logPath + ".old"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"info", LevelInfo, true},
		{"", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}

	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseLevel(%q) expected error", tc.in)
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	l, err := New(&Config{Level: LevelInfo, Output: "stderr"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	sub := l.WithComponent("watcher")
	if sub == nil {
		t.Fatal("WithComponent returned nil")
	}
}
