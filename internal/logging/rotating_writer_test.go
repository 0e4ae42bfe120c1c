package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(content)
}

func TestRotatingFileWriterAppends(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(logFile, []byte("existing\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	writer, err := NewRotatingFileWriter(logFile, 1024, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	if _, err := writer.Write([]byte("appended\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := readFile(t, logFile); got != "existing\nappended\n" {
		t.Errorf("content = %q", got)
	}
}

func TestRotatingFileWriterRotates(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	writer, err := NewRotatingFileWriter(logFile, 10, 2)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	for _, line := range []string{"first\n", "second\n", "third\n", "fourth\n"} {
		if _, err := writer.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if got := readFile(t, logFile); got != "fourth\n" {
		t.Errorf("current = %q, want fourth", got)
	}
	if got := readFile(t, logFile+".1"); got != "third\n" {
		t.Errorf("backup 1 = %q, want third", got)
	}
	if got := readFile(t, logFile+".2"); got != "second\n" {
		t.Errorf("backup 2 = %q, want second", got)
	}
	if _, err := os.Stat(logFile + ".3"); !os.IsNotExist(err) {
		t.Errorf("backup 3 should not exist, stat error = %v", err)
	}
}

func TestRotatingFileWriterWithoutBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	writer, err := NewRotatingFileWriter(logFile, 8, 0)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	_, _ = writer.Write([]byte("aaaaaa\n"))
	_, _ = writer.Write([]byte("bbbbbb\n"))

	if got := readFile(t, logFile); got != "bbbbbb\n" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(logFile + ".*")
	if len(matches) != 0 {
		t.Errorf("unexpected backups %v", matches)
	}
}

func TestRotatingFileWriterOversizedRecord(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	writer, err := NewRotatingFileWriter(logFile, 4, 1)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	record := strings.Repeat("x", 16)
	n, err := writer.Write([]byte(record))
	if err != nil || n != len(record) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := readFile(t, logFile); got != record {
		t.Errorf("content = %q", got)
	}
}

func TestRotatingFileWriterClosed(t *testing.T) {
	writer, err := NewRotatingFileWriter(filepath.Join(t.TempDir(), "test.log"), 100, 1)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	_ = writer.Close()

	if _, err := writer.Write([]byte("late")); err == nil {
		t.Error("expected error writing to a closed writer")
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNewRotatingFileWriterInvalidSize(t *testing.T) {
	if _, err := NewRotatingFileWriter(filepath.Join(t.TempDir(), "test.log"), 0, 1); err == nil {
		t.Error("expected error for zero size")
	}
}
