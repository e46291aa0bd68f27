// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package logwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startTailer(t *testing.T, path string) *Tailer {
	t.Helper()

	tailer := New(path, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tailer.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tailer
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
}

func waitForLine(t *testing.T, tailer *Tailer) string {
	t.Helper()

	select {
	case line := <-tailer.Lines():
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for line")
		return ""
	}
}

func waitForRestart(t *testing.T, tailer *Tailer) {
	t.Helper()

	select {
	case <-tailer.Restarts():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for restart signal")
	}
}

func TestTailerDeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	appendLine(t, path, "historic line before start")

	tailer := startTailer(t, path)

	// Give the tailer time to seek to end before appending.
	time.Sleep(50 * time.Millisecond)

	appendLine(t, path, "[CHAT] Hello world")
	appendLine(t, path, "[CHAT] Second line")

	if got := waitForLine(t, tailer); got != "[CHAT] Hello world" {
		t.Errorf("Expected first appended line, got %q", got)
	}
	if got := waitForLine(t, tailer); got != "[CHAT] Second line" {
		t.Errorf("Expected second appended line, got %q", got)
	}
}

func TestTailerSkipsHistoricLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	appendLine(t, path, "old line 1")
	appendLine(t, path, "old line 2")

	tailer := startTailer(t, path)
	time.Sleep(50 * time.Millisecond)

	appendLine(t, path, "new line")

	if got := waitForLine(t, tailer); got != "new line" {
		t.Errorf("Expected only the new line, got %q", got)
	}
}

func TestTailerDetectsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	appendLine(t, path, "session one")

	tailer := startTailer(t, path)
	time.Sleep(50 * time.Millisecond)

	appendLine(t, path, "more content to advance position")
	waitForLine(t, tailer)

	// Client restart: file rewritten from scratch.
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	waitForRestart(t, tailer)

	if got := waitForLine(t, tailer); got != "fresh" {
		t.Errorf("Expected content after truncation, got %q", got)
	}
}

func TestTailerDetectsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")
	appendLine(t, path, "session one")

	tailer := startTailer(t, path)
	time.Sleep(50 * time.Millisecond)

	// Launcher-style rotation: old file moved aside, new file created.
	if err := os.Rename(path, filepath.Join(dir, "2026-09-01-1.log")); err != nil {
		t.Fatalf("Failed to rotate: %v", err)
	}
	if err := os.WriteFile(path, []byte("new session\n"), 0o644); err != nil {
		t.Fatalf("Failed to create new log: %v", err)
	}

	waitForRestart(t, tailer)

	if got := waitForLine(t, tailer); got != "new session" {
		t.Errorf("Expected content from rotated file, got %q", got)
	}
}

func TestTailerWaitsForMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")

	tailer := startTailer(t, path)
	time.Sleep(50 * time.Millisecond)

	appendLine(t, path, "first ever line")

	waitForRestart(t, tailer)

	if got := waitForLine(t, tailer); got != "first ever line" {
		t.Errorf("Expected line from newly created file, got %q", got)
	}
}
