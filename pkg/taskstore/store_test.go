package taskstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		Path:   filepath.Join(t.TempDir(), "tasks.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func TestStore_New(t *testing.T) {
	t.Run("should require a path", func(t *testing.T) {
		_, err := New(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should create missing parent directories", func(t *testing.T) {
		store, err := New(Config{
			Path:   filepath.Join(t.TempDir(), "nested", "dir", "tasks.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		store.Close()
	})
}

func TestStore_Create(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("should assign sequential ids", func(t *testing.T) {
		first, err := store.Create(ctx, "user-1", "First", nil)
		require.NoError(t, err)
		second, err := store.Create(ctx, "user-1", "Second", strPtr("with description"))
		require.NoError(t, err)

		assert.Equal(t, first.ID+1, second.ID)
		assert.False(t, first.Completed)
		assert.Nil(t, first.Description)
		require.NotNil(t, second.Description)
		assert.Equal(t, "with description", *second.Description)
	})

	t.Run("should persist the record", func(t *testing.T) {
		created, err := store.Create(ctx, "user-1", "Persisted", nil)
		require.NoError(t, err)

		loaded, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Title, loaded.Title)
		assert.Equal(t, created.UserID, loaded.UserID)
	})
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "user-1", "Pending one", nil)
	require.NoError(t, err)
	b, err := store.Create(ctx, "user-1", "Completed one", nil)
	require.NoError(t, err)
	_, err = store.SetCompleted(ctx, b.ID, "user-1", true)
	require.NoError(t, err)
	_, err = store.Create(ctx, "user-2", "Other user's task", nil)
	require.NoError(t, err)

	t.Run("should return only the user's tasks in id order", func(t *testing.T) {
		tasks, err := store.List(ctx, "user-1", StatusAll)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, a.ID, tasks[0].ID)
		assert.Equal(t, b.ID, tasks[1].ID)
	})

	t.Run("should filter by pending", func(t *testing.T) {
		tasks, err := store.List(ctx, "user-1", StatusPending)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, a.ID, tasks[0].ID)
	})

	t.Run("should filter by completed", func(t *testing.T) {
		tasks, err := store.List(ctx, "user-1", StatusCompleted)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, b.ID, tasks[0].ID)
	})

	t.Run("should return an empty slice for an unknown user", func(t *testing.T) {
		tasks, err := store.List(ctx, "nobody", StatusAll)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func TestStore_SetCompleted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.Create(ctx, "user-1", "Toggle me", nil)
	require.NoError(t, err)

	t.Run("should mark complete and refresh updated_at", func(t *testing.T) {
		updated, err := store.SetCompleted(ctx, task.ID, "user-1", true)
		require.NoError(t, err)
		assert.True(t, updated.Completed)
		assert.False(t, updated.UpdatedAt.Before(task.UpdatedAt))
	})

	t.Run("should mark incomplete again", func(t *testing.T) {
		updated, err := store.SetCompleted(ctx, task.ID, "user-1", false)
		require.NoError(t, err)
		assert.False(t, updated.Completed)
	})

	t.Run("should reject a non-owner", func(t *testing.T) {
		_, err := store.SetCompleted(ctx, task.ID, "user-2", true)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("should report missing tasks", func(t *testing.T) {
		_, err := store.SetCompleted(ctx, 99999, "user-1", true)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Update(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.Create(ctx, "user-1", "Original title", strPtr("original description"))
	require.NoError(t, err)

	t.Run("should update only the provided fields", func(t *testing.T) {
		updated, err := store.Update(ctx, task.ID, "user-1", UpdateFields{Title: strPtr("New title")})
		require.NoError(t, err)
		assert.Equal(t, "New title", updated.Title)
		require.NotNil(t, updated.Description)
		assert.Equal(t, "original description", *updated.Description)
	})

	t.Run("should update the description independently", func(t *testing.T) {
		updated, err := store.Update(ctx, task.ID, "user-1", UpdateFields{Description: strPtr("new description")})
		require.NoError(t, err)
		assert.Equal(t, "New title", updated.Title)
		require.NotNil(t, updated.Description)
		assert.Equal(t, "new description", *updated.Description)
	})

	t.Run("should reject a non-owner", func(t *testing.T) {
		_, err := store.Update(ctx, task.ID, "user-2", UpdateFields{Title: strPtr("hijacked")})
		assert.ErrorIs(t, err, ErrNotOwner)

		loaded, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "New title", loaded.Title)
	})
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task, err := store.Create(ctx, "user-1", "Delete me", nil)
	require.NoError(t, err)

	t.Run("should reject a non-owner", func(t *testing.T) {
		_, err := store.Delete(ctx, task.ID, "user-2")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("should return the snapshot and remove the row", func(t *testing.T) {
		snapshot, err := store.Delete(ctx, task.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "Delete me", snapshot.Title)

		_, err = store.Get(ctx, task.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should report a second delete as missing", func(t *testing.T) {
		_, err := store.Delete(ctx, task.ID, "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusAll.Valid())
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("archived").Valid())
}
