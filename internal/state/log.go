package state

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Iron-Ham/storyloop/internal/session"
)

// ProgressLogName is the progress log kept in the state directory.
const ProgressLogName = "progress.log"

// LogPath returns the path of the progress log.
func (s *Store) LogPath() string {
	return filepath.Join(s.backend.Dir(), ProgressLogName)
}

// AppendLog adds a timestamped line to the progress log. Embedded newlines
// are flattened so each call produces exactly one line.
func (s *Store) AppendLog(msg string) error {
	return s.writeLog(msg)
}

// appendLog is AppendLog for internal callers, where a log write failure
// must not fail the state transition that triggered it.
func (s *Store) appendLog(msg string) {
	if err := s.writeLog(msg); err != nil {
		s.logger.Warn("failed to append progress log", "error", err)
	}
}

func (s *Store) writeLog(msg string) error {
	line := fmt.Sprintf("%s %s\n", s.now().UTC().Format(time.RFC3339), flatten(msg))

	s.logMu.Lock()
	defer s.logMu.Unlock()

	f, err := os.OpenFile(s.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write progress log: %w", err)
	}
	return f.Close()
}

// ReadLog returns the last n lines of the progress log, oldest first.
// n <= 0 returns every line. A missing log yields no lines.
func (s *Store) ReadLog(n int) ([]string, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// trimLog keeps the last keep lines and returns how many were dropped.
func (s *Store) trimLog(keep int) (int, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return 0, err
	}
	if len(lines) <= keep {
		return 0, nil
	}

	dropped := len(lines) - keep
	var buf bytes.Buffer
	for _, line := range lines[dropped:] {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := session.AtomicWriteFile(s.LogPath(), buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("trim progress log: %w", err)
	}
	return dropped, nil
}

func (s *Store) readLines() ([]string, error) {
	f, err := os.Open(s.LogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" || err == nil {
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read progress log: %w", err)
		}
	}
}

func flatten(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}

// clip shortens s to at most n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [%d bytes truncated]", len(s)-cut)
}
