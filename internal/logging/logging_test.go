package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSet_WorkerLine(t *testing.T) {
	root := t.TempDir()
	set, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer set.CloseAll()

	set.Get(CategoryPerformance).Worker(3, "[ADVIEW] OK %s", "https://example.com/listing-1")
	set.Get(CategoryPerformance).System("phase complete")
	set.CloseAll()

	data, err := os.ReadFile(filepath.Join(set.Dir(), "performance.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], " - Thread3 - [ADVIEW] OK https://example.com/listing-1") {
		t.Errorf("worker line malformed: %q", lines[0])
	}
	if !strings.Contains(lines[1], " - System - phase complete") {
		t.Errorf("system line malformed: %q", lines[1])
	}
}

func TestSet_SeparateFilesPerCategory(t *testing.T) {
	set, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer set.CloseAll()

	set.Get(CategoryDetection).Worker(1, "payload element missing")
	set.Get(CategoryErrors).Worker(1, "navigation timeout")
	set.CloseAll()

	for _, name := range []string{"detection.log", "errors.log"} {
		if _, err := os.Stat(filepath.Join(set.Dir(), name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(set.Dir(), "performance.log")); err == nil {
		t.Errorf("performance.log should not exist for an untouched category")
	}
}

func TestSet_GetReturnsSameLogger(t *testing.T) {
	set, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer set.CloseAll()

	if set.Get(CategoryErrors) != set.Get(CategoryErrors) {
		t.Error("Get should cache loggers per category")
	}
}
