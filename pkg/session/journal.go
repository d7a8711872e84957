package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/agentapi/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Journal persists per-session turns so a session survives a restart.
type Journal interface {
	Append(ctx context.Context, sessionID string, turns []Turn) error
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Delete(ctx context.Context, sessionID string) error
	Exists(sessionID string) (bool, error)
	List() ([]string, error)
}

// journalEntry is one JSONL line.
type journalEntry struct {
	SessionID string `json:"sessionId"`
	Turn      Turn   `json:"turn"`
}

// FileJournal stores one JSONL file per session under a directory.
type FileJournal struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewFileJournal creates dir if needed and returns a journal rooted there.
func NewFileJournal(dir string) (*FileJournal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileJournal{dir: dir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

// ValidateSessionID rejects IDs that are empty or unsafe as file names.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(sessionID) > 128 {
		return fmt.Errorf("session id cannot exceed 128 characters")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (j *FileJournal) path(sessionID string) string {
	return filepath.Join(j.dir, sessionID+".jsonl")
}

func (j *FileJournal) lock(sessionID string) *sync.Mutex {
	j.locksMu.Lock()
	defer j.locksMu.Unlock()

	if l, ok := j.writeLocks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	j.writeLocks[sessionID] = l
	return l
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Append writes turns as JSON lines and syncs the file.
func (j *FileJournal) Append(ctx context.Context, sessionID string, turns []Turn) error {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerMemory, "session.journal_append",
		attribute.String("session_id", sessionID),
		attribute.Int("turns", len(turns)),
	)
	defer span.End()

	if err := ValidateSessionID(sessionID); err != nil {
		recordSpanError(span, err)
		return err
	}

	l := j.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	file, err := os.OpenFile(j.path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, turn := range turns {
		data, err := json.Marshal(journalEntry{SessionID: sessionID, Turn: turn})
		if err != nil {
			recordSpanError(span, err)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to write session journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to sync session journal: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("session_id", sessionID).
		Int("turns", len(turns)).
		Msg("Turns journaled")
	return nil
}

// Load reads every valid turn of a session. A missing journal yields no turns.
func (j *FileJournal) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerMemory, "session.journal_load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", sessionID).Logger()

	if err := ValidateSessionID(sessionID); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	file, err := os.Open(j.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse journal line, skipping")
			continue
		}
		if validateTurn(entry.Turn) != nil {
			logger.Warn().Int("line", lineNum).Msg("Invalid journal entry, skipping")
			continue
		}
		turns = append(turns, entry.Turn)
	}

	if err := scanner.Err(); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to read session journal: %w", err)
	}

	logger.Debug().Int("turns", len(turns)).Msg("Session journal loaded")
	return turns, nil
}

// Delete removes a session's journal file.
func (j *FileJournal) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	l := j.lock(sessionID)
	l.Lock()
	err := os.Remove(j.path(sessionID))
	l.Unlock()

	j.locksMu.Lock()
	delete(j.writeLocks, sessionID)
	j.locksMu.Unlock()

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session journal: %w", err)
	}
	return nil
}

// Exists reports whether a journal file is present for sessionID.
func (j *FileJournal) Exists(sessionID string) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	_, err := os.Stat(j.path(sessionID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat session journal: %w", err)
	}
	return true, nil
}

// List returns the IDs of all journaled sessions, sorted.
func (j *FileJournal) List() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}
