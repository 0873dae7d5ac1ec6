package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer

	NewWithWriter(false, &buf).Debug("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("non-verbose logger wrote debug output: %q", buf.String())
	}

	NewWithWriter(true, &buf).Debug("shown %d", 2)
	if got := buf.String(); got != "[DEBUG] shown 2\n" {
		t.Errorf("verbose debug output = %q", got)
	}
}

func TestProgressBarSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(false, &buf)

	l.SetProgressBar(true)
	l.Info("quiet")
	l.Error("loud")
	l.SetProgressBar(false)
	l.Info("back")

	got := buf.String()
	if strings.Contains(got, "quiet") {
		t.Error("info should be hidden while a progress bar is active")
	}
	if !strings.Contains(got, "[ERROR] loud") {
		t.Error("errors should always be written")
	}
	if !strings.Contains(got, "back\n") {
		t.Error("info should be written once the bar is gone")
	}
}

func TestFileLogReceivesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackid.log")
	l := Discard()
	if err := l.SetFileLog(path); err != nil {
		t.Fatalf("SetFileLog() error: %v", err)
	}

	l.Debug("attempt %s", "shazam")
	l.Warn("careful")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[DEBUG] attempt shazam") {
		t.Errorf("file log missing debug line: %q", data)
	}
	if !strings.Contains(string(data), "[WARN] careful") {
		t.Errorf("file log missing warn line: %q", data)
	}
}
