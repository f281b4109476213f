package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T, maxEntries int) *Manager {
	t.Helper()

	m, err := New(Config{Dir: t.TempDir(), MaxEntries: maxEntries})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return m
}

func TestAppendAndLoad(t *testing.T) {
	m := setupTestManager(t, 0)
	ctx := context.Background()

	t.Run("should round-trip messages in order", func(t *testing.T) {
		require.NoError(t, m.Append(ctx, "conv-1", Message{Role: "user", Content: "add milk to my list"}))
		require.NoError(t, m.Append(ctx, "conv-1", Message{Role: "assistant", Content: "Task created successfully"}))

		entries, err := m.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "user", entries[0].Message.Role)
		assert.Equal(t, "add milk to my list", entries[0].Message.Content)
		assert.Equal(t, "assistant", entries[1].Message.Role)
		assert.False(t, entries[0].Message.Timestamp.IsZero())
	})

	t.Run("should return empty for unknown conversation", func(t *testing.T) {
		entries, err := m.Load(ctx, "never-seen")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should reject empty role or content", func(t *testing.T) {
		assert.Error(t, m.Append(ctx, "conv-1", Message{Content: "no role"}))
		assert.Error(t, m.Append(ctx, "conv-1", Message{Role: "user"}))
	})
}

func TestKeyValidation(t *testing.T) {
	m := setupTestManager(t, 0)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", "a\\b", "nul\x00byte"} {
		err := m.Append(ctx, key, Message{Role: "user", Content: "hi"})
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

func TestLoadSkipsCorruptedLines(t *testing.T) {
	m := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "conv-1", Message{Role: "user", Content: "first"}))

	path := filepath.Join(m.dir, "conv-1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, m.Append(ctx, "conv-1", Message{Role: "assistant", Content: "second"}))

	entries, err := m.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message.Content)
	assert.Equal(t, "second", entries[1].Message.Content)
}

func TestMaxEntriesCap(t *testing.T) {
	m := setupTestManager(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, "conv-1", Message{
			Role:    "user",
			Content: string(rune('a' + i)),
		}))
	}

	entries, err := m.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message.Content)
	assert.Equal(t, "e", entries[2].Message.Content)
}

func TestDeleteAndList(t *testing.T) {
	m := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "conv-1", Message{Role: "user", Content: "hi"}))
	require.NoError(t, m.Append(ctx, "conv-2", Message{Role: "user", Content: "hi"}))

	keys, err := m.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, keys)

	require.NoError(t, m.Delete(ctx, "conv-1"))
	require.NoError(t, m.Delete(ctx, "conv-1"))

	keys, err = m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-2"}, keys)
}

func TestCleanupRunOnce(t *testing.T) {
	m := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "stale", Message{Role: "user", Content: "old"}))
	require.NoError(t, m.Append(ctx, "fresh", Message{Role: "user", Content: "new"}))

	stalePath := filepath.Join(m.dir, "stale.jsonl")
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	cleanup := NewCleanup(m, 7*24*time.Hour, "")
	require.NoError(t, cleanup.RunOnce(ctx))

	keys, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
}
