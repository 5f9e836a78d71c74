package state

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/storyloop/internal/session"
)

// archiveTimeLayout is the UTC timestamp embedded in archive keys. It sorts
// lexically in chronological order.
const archiveTimeLayout = "20060102T150405Z"

// CleanupReport describes what Cleanup did.
type CleanupReport struct {
	SessionID       string   `json:"session_id"`
	Status          Status   `json:"status"`
	ArchiveKey      string   `json:"archive_key"`
	LogLinesTrimmed int      `json:"log_lines_trimmed"`
	Pruned          []string `json:"pruned,omitempty"`
}

// ArchiveEntry is one archived session.
type ArchiveEntry struct {
	Key        string    `json:"key"`
	SessionID  string    `json:"session_id"`
	Status     Status    `json:"status"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Cleanup finalizes a session in a terminal status: the live state moves
// into the archive, the pending request is dropped, the progress log is
// trimmed and old archives are pruned. A failed log trim is logged and does
// not undo the archival. Sessions still in flight are left
// untouched and ErrNotTerminal is returned.
func (s *Store) Cleanup(ctx context.Context) (*CleanupReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrNotTerminal, st.Status)
	}

	now := s.now().UTC()
	report := &CleanupReport{
		SessionID:  st.SessionID,
		Status:     st.Status,
		ArchiveKey: archiveKey(st.SessionID, st.Status, now),
	}

	s.appendLog(fmt.Sprintf("session %s finished with status %s, archived as %s", st.SessionID, st.Status, report.ArchiveKey))

	data, err := s.backend.Load(ctx, StateKey)
	if err != nil {
		return nil, fmt.Errorf("load state for archive: %w", err)
	}
	if err := s.backend.Save(ctx, report.ArchiveKey, data); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	if err := s.backend.Delete(ctx, StateKey); err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("remove live state: %w", err)
	}
	if err := s.backend.Delete(ctx, RequestKey); err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("remove request: %w", err)
	}

	trimmed, err := s.trimLog(s.opts.LogRetentionLines)
	if err != nil {
		s.logger.Warn("failed to trim progress log", "error", err)
	}
	report.LogLinesTrimmed = trimmed

	pruned, err := s.pruneArchive(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Pruned = pruned

	s.logger.Info("session archived",
		"session_id", st.SessionID,
		"status", string(st.Status),
		"archive", report.ArchiveKey,
		"log_lines_trimmed", trimmed,
		"pruned", len(pruned),
	)
	return report, nil
}

// ListArchive returns archived sessions, newest first. Keys that do not
// follow the archive naming scheme are skipped.
func (s *Store) ListArchive(ctx context.Context) ([]ArchiveEntry, error) {
	keys, err := s.backend.List(ctx, ArchivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}

	var entries []ArchiveEntry
	for _, key := range keys {
		if e, ok := parseArchiveKey(key); ok {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ArchivedAt.After(entries[j].ArchivedAt)
	})
	return entries, nil
}

// LoadArchive decodes one archived session.
func (s *Store) LoadArchive(ctx context.Context, key string) (*SessionState, error) {
	data, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load archive %s: %w", key, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// pruneArchive keeps at most ArchiveKeep entries and drops any older than
// ArchiveMaxAge.
func (s *Store) pruneArchive(ctx context.Context, now time.Time) ([]string, error) {
	entries, err := s.ListArchive(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for i, e := range entries {
		if i < s.opts.ArchiveKeep && now.Sub(e.ArchivedAt) <= s.opts.ArchiveMaxAge {
			continue
		}
		if err := s.backend.Delete(ctx, e.Key); err != nil && !errors.Is(err, session.ErrNotFound) {
			return pruned, fmt.Errorf("prune archive %s: %w", e.Key, err)
		}
		pruned = append(pruned, e.Key)
	}
	return pruned, nil
}

func archiveKey(sessionID string, status Status, at time.Time) string {
	return fmt.Sprintf("%s%s_%s_%s.json", ArchivePrefix, sessionID, status, at.UTC().Format(archiveTimeLayout))
}

// parseArchiveKey splits "archive/<id>_<status>_<ts>.json". Session IDs may
// themselves contain underscores, so fields are taken from the right.
func parseArchiveKey(key string) (ArchiveEntry, bool) {
	if !strings.HasPrefix(key, ArchivePrefix) || path.Ext(key) != ".json" {
		return ArchiveEntry{}, false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(key, ArchivePrefix), ".json")

	i := strings.LastIndex(name, "_")
	if i <= 0 {
		return ArchiveEntry{}, false
	}
	ts, err := time.Parse(archiveTimeLayout, name[i+1:])
	if err != nil {
		return ArchiveEntry{}, false
	}

	rest := name[:i]
	j := strings.LastIndex(rest, "_")
	if j <= 0 {
		return ArchiveEntry{}, false
	}
	status := Status(rest[j+1:])
	if !status.Terminal() {
		return ArchiveEntry{}, false
	}

	return ArchiveEntry{
		Key:        key,
		SessionID:  rest[:j],
		Status:     status,
		ArchivedAt: ts,
	}, true
}
