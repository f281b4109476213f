// Package history persists conversation transcripts as JSONL files, one file
// per conversation key. Appends are serialized per key so concurrent turns on
// the same conversation never interleave partial lines.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/tracing"
)

// Message is a single conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a message tagged with its conversation key, as stored on disk.
type Entry struct {
	ConversationKey string  `json:"conversationKey"`
	Message         Message `json:"message"`
}

// Config configures a Manager.
type Config struct {
	Dir string
	// MaxEntries caps how many trailing entries Load returns per
	// conversation. Zero means unlimited.
	MaxEntries int
}

// Manager manages conversation transcript files.
type Manager struct {
	dir        string
	maxEntries int
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Manager rooted at cfg.Dir, creating the directory if needed.
func New(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".taskdeck", "conversations")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	m := &Manager{
		dir:        dir,
		maxEntries: cfg.MaxEntries,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("History manager initialized")
	m.updateActiveConversationsMetric()

	return m, nil
}

// validateKey rejects keys that could escape the history directory.
func (m *Manager) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("conversation key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("conversation key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("conversation key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("conversation key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) pathFor(key string) string {
	return filepath.Join(m.dir, key+".jsonl")
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, ok := m.writeLocks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[key] = lock
	return lock
}

func (m *Manager) updateActiveConversationsMetric() {
	keys, err := m.List()
	if err != nil {
		return
	}
	observability.SetActiveConversations(len(keys))
}

// Append writes a message to the conversation's transcript, creating the
// file on first use.
func (m *Manager) Append(ctx context.Context, key string, message Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"taskdeck.history",
		"history.append",
		attribute.String("conversation_key", key),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("conversation_key", key).Logger()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := m.pathFor(key)
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{ConversationKey: key, Message: message})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}

	if created {
		m.updateActiveConversationsMetric()
	}

	logger.Debug().Str("role", message.Role).Msg("Message appended")
	return nil
}

// Load returns the conversation's messages in order. A missing transcript is
// an empty conversation, not an error. Corrupted lines are skipped. When a
// max entry cap is configured, only the trailing entries are returned.
func (m *Manager) Load(ctx context.Context, key string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"taskdeck.history",
		"history.load",
		attribute.String("conversation_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("conversation_key", key).Logger()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	path := m.pathFor(key)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" || entry.Message.Content == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	if m.maxEntries > 0 && len(entries) > m.maxEntries {
		entries = entries[len(entries)-m.maxEntries:]
	}

	logger.Debug().Int("messages", len(entries)).Msg("Conversation loaded")
	return entries, nil
}

// Delete removes a conversation's transcript. Deleting a conversation that
// does not exist is a no-op.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"taskdeck.history",
		"history.delete",
		attribute.String("conversation_key", key),
	)
	defer span.End()

	if err := m.validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(m.pathFor(key)); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete transcript file: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, key)
	m.locksMu.Unlock()

	m.updateActiveConversationsMetric()
	log.Info().Str("conversation_key", key).Msg("Conversation deleted")
	return nil
}

// List returns the keys of all stored conversations.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}

	return keys, nil
}

// LastModified reports when a conversation's transcript was last written.
func (m *Manager) LastModified(key string) (time.Time, error) {
	if err := m.validateKey(key); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(m.pathFor(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat transcript file: %w", err)
	}
	return info.ModTime(), nil
}

// Compact rewrites a transcript dropping corrupted lines and, when a max
// entry cap is configured, entries beyond the cap.
func (m *Manager) Compact(ctx context.Context, key string) error {
	entries, err := m.Load(ctx, key)
	if err != nil {
		return err
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := m.pathFor(key)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript file: %w", err)
	}

	log.Info().Str("conversation_key", key).Int("entries", len(entries)).Msg("Transcript compacted")
	return nil
}

// Close releases the manager's per-conversation locks.
func (m *Manager) Close() error {
	m.locksMu.Lock()
	m.writeLocks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()
	return nil
}
