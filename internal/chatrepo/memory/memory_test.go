package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnforge/chatcore/internal/chatrepo"
)

func TestCreateThread_AssignsIDETagAndVersion(t *testing.T) {
	repo := New()
	thread, err := repo.CreateThread(context.Background(), chatrepo.Thread{UserID: "u1", Title: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, thread.ID)
	assert.NotEmpty(t, thread.ETag)
	assert.Equal(t, 1, thread.Version)
}

func TestUpdateThread_EtagMismatchReportsConflict(t *testing.T) {
	repo := New()
	created, err := repo.CreateThread(context.Background(), chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	_, conflict, err := repo.UpdateThread(context.Background(), created.ID, func(t *chatrepo.Thread) {
		t.Title = "changed"
	}, chatrepo.UpdateOptions{IfMatch: "stale"})
	require.NoError(t, err)
	assert.True(t, conflict)

	unchanged, err := repo.GetThread(context.Background(), created.ID, false)
	require.NoError(t, err)
	assert.Empty(t, unchanged.Title)
}

func TestUpdateThread_RetryOnConflictBypassesEtagCheck(t *testing.T) {
	repo := New()
	created, err := repo.CreateThread(context.Background(), chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	updated, conflict, err := repo.UpdateThread(context.Background(), created.ID, func(t *chatrepo.Thread) {
		t.IsBookmarked = true
	}, chatrepo.UpdateOptions{IfMatch: "stale", RetryOnConflict: true})
	require.NoError(t, err)
	assert.False(t, conflict)
	assert.True(t, updated.IsBookmarked)
	assert.Equal(t, 2, updated.Version)
}

func TestDeleteThread_SoftDeleteHidesFromGetAndRestoreUnhides(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteThread(ctx, "t1", chatrepo.DeleteOptions{}))
	_, err = repo.GetThread(ctx, "t1", false)
	assert.ErrorIs(t, err, chatrepo.ErrNotFound)

	visible, err := repo.GetThread(ctx, "t1", true)
	require.NoError(t, err)
	assert.True(t, visible.IsDeleted)

	restored, err := repo.RestoreThread(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
}

func TestListThreads_PaginatesWithContinuationToken(t *testing.T) {
	repo := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := repo.CreateThread(ctx, chatrepo.Thread{UserID: "u1", Title: "t"})
		require.NoError(t, err)
	}

	page1, err := repo.ListThreads(ctx, chatrepo.ListThreadsOptions{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.ContinuationToken)

	page2, err := repo.ListThreads(ctx, chatrepo.ListThreadsOptions{UserID: "u1", Limit: 2, ContinuationToken: page1.ContinuationToken})
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)

	for _, a := range page1.Items {
		for _, b := range page2.Items {
			assert.NotEqual(t, a.ID, b.ID)
		}
	}
}

func TestListThreads_FiltersByUserAndBookmark(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "mine", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.CreateThread(ctx, chatrepo.Thread{ID: "theirs", UserID: "u2"})
	require.NoError(t, err)
	_, _, err = repo.UpdateThread(ctx, "mine", func(t *chatrepo.Thread) { t.IsBookmarked = true }, chatrepo.UpdateOptions{})
	require.NoError(t, err)

	bookmarked := true
	page, err := repo.ListThreads(ctx, chatrepo.ListThreadsOptions{UserID: "u1", IsBookmarked: &bookmarked})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "mine", page.Items[0].ID)
}

func TestUpsertMessage_IsIdempotentByID(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	first, err := repo.UpsertMessage(ctx, chatrepo.MessageEntity{ID: "m1", ThreadID: "t1", Role: "user", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := repo.UpsertMessage(ctx, chatrepo.MessageEntity{ID: "m1", ThreadID: "t1", Role: "user", Content: "hi again"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	count, err := repo.CountMessages(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetMessages_OrdersByCreationAndExcludesDeleted(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	_, err = repo.UpsertMessage(ctx, chatrepo.MessageEntity{ID: "m1", ThreadID: "t1", Role: "user", Content: "first"})
	require.NoError(t, err)
	_, err = repo.UpsertMessage(ctx, chatrepo.MessageEntity{ID: "m2", ThreadID: "t1", Role: "assistant", Content: "second"})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteMessage(ctx, "m1"))

	page, err := repo.GetMessages(ctx, "t1", chatrepo.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m2", page.Items[0].ID)
}

func TestGetLastMessage_ReturnsErrNotFoundWhenEmpty(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	_, err = repo.GetLastMessage(ctx, "t1")
	assert.ErrorIs(t, err, chatrepo.ErrNotFound)
}

func TestHardDeleteThread_CascadesToMessages(t *testing.T) {
	repo := New()
	ctx := context.Background()
	_, err := repo.CreateThread(ctx, chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.UpsertMessage(ctx, chatrepo.MessageEntity{ID: "m1", ThreadID: "t1", Role: "user", Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, repo.HardDeleteThread(ctx, "t1"))
	_, err = repo.GetThread(ctx, "t1", true)
	assert.ErrorIs(t, err, chatrepo.ErrNotFound)
	count, err := repo.CountMessages(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
