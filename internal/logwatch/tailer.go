// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package logwatch tails the game client's latest.log by polling. The
// client appends chat lines continuously, truncates the file on restart,
// and some launchers rotate it to a fresh inode. Both truncation and
// rotation are surfaced as a restart signal so downstream state can be
// invalidated.
package logwatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/metrics"
)

// DefaultPollInterval is used when the config does not set one.
const DefaultPollInterval = 100 * time.Millisecond

// Tailer streams appended lines from a single log file. Lines that were
// already in the file when the tailer starts are skipped.
type Tailer struct {
	path     string
	interval time.Duration
	log      zerolog.Logger

	file     *os.File
	position int64

	lines    chan string
	restarts chan struct{}
}

// New creates a tailer for the log file at path. The file does not need
// to exist yet; the tailer waits for it to appear.
func New(path string, pollInterval time.Duration) *Tailer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Tailer{
		path:     path,
		interval: pollInterval,
		log:      logging.With().Str("component", "logwatch").Logger(),
		lines:    make(chan string, 256),
		restarts: make(chan struct{}, 4),
	}
}

// Lines returns the channel of appended log lines, trailing newline
// stripped. The channel stays open across Serve restarts.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

// Restarts signals that the file was truncated or replaced. Receivers
// should treat everything known so far as stale.
func (t *Tailer) Restarts() <-chan struct{} {
	return t.restarts
}

// String implements fmt.Stringer for supervisor log messages.
func (t *Tailer) String() string {
	return "log-tailer"
}

// Serve polls the file until ctx is canceled. It implements
// suture.Service so the supervisor restarts it on failure.
func (t *Tailer) Serve(ctx context.Context) error {
	// The lines channel is deliberately left open: the supervisor may
	// restart this service, and the next Serve keeps feeding the same
	// channel.
	defer func() {
		if t.file != nil {
			t.file.Close()
			t.file = nil
		}
	}()

	if err := t.open(true); err != nil {
		t.log.Debug().Err(err).Str("path", t.path).Msg("Log file not available yet, waiting")
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.log.Info().Str("path", t.path).Dur("poll_interval", t.interval).Msg("Tailing client log")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				t.log.Warn().Err(err).Msg("Log poll failed")
			}
		}
	}
}

// open opens the log file. With seekEnd set the read position starts at
// the current end so historic lines are not replayed.
func (t *Tailer) open(seekEnd bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	pos := int64(0)
	if seekEnd {
		pos, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return fmt.Errorf("seeking to end: %w", err)
		}
	}

	if t.file != nil {
		t.file.Close()
	}
	t.file = file
	t.position = pos
	return nil
}

func (t *Tailer) poll(ctx context.Context) error {
	if t.file == nil {
		// The file appearing now means a fresh session, so read it
		// from the start rather than seeking to the end.
		if err := t.open(false); err != nil {
			return nil // still waiting for the file to appear
		}
		t.signalRestart(ctx)
	}

	if rotated, err := t.checkRotation(ctx); err != nil {
		return err
	} else if rotated {
		return nil
	}

	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat open file: %w", err)
	}

	// Truncation: the client restarted and rewrote the file in place.
	if stat.Size() < t.position {
		t.log.Info().Int64("size", stat.Size()).Int64("position", t.position).
			Msg("Log file truncated, client restart assumed")
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to start after truncate: %w", err)
		}
		t.position = 0
		t.signalRestart(ctx)
	}

	if stat.Size() == t.position {
		return nil
	}

	return t.readNewLines(ctx)
}

// checkRotation detects the log being replaced by a new file at the same
// path. The stale handle keeps reading the old inode otherwise.
func (t *Tailer) checkRotation(ctx context.Context) (bool, error) {
	pathStat, err := os.Stat(t.path)
	if err != nil {
		// File vanished mid-rotation; keep the old handle and retry.
		return false, nil
	}

	fileStat, err := t.file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat open file: %w", err)
	}

	if os.SameFile(pathStat, fileStat) {
		return false, nil
	}

	t.log.Info().Str("path", t.path).Msg("Log file rotated, reopening")
	if err := t.open(false); err != nil {
		return false, err
	}
	t.signalRestart(ctx)
	return true, nil
}

func (t *Tailer) readNewLines(ctx context.Context) error {
	if _, err := t.file.Seek(t.position, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to position: %w", err)
	}

	reader := bufio.NewReader(t.file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line, leave it for the next poll.
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}

		t.position += int64(len(line))

		line = line[:len(line)-1]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if line == "" {
			continue
		}

		metrics.LogLinesRead.Inc()
		select {
		case t.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tailer) signalRestart(ctx context.Context) {
	metrics.LogRestarts.Inc()
	select {
	case t.restarts <- struct{}{}:
	case <-ctx.Done():
	}
}
