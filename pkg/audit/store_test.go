package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/pkg/domain"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := store.Save(ctx, &domain.AuditRecord{
			UserID:    "alice",
			Endpoint:  "/v1/secure-prompt",
			RiskScore: i * 20,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Save(ctx, &domain.AuditRecord{
		UserID:    "bob",
		RiskScore: 100,
		Timestamp: base,
	}))
	return store
}

func TestListByUserNewestFirst(t *testing.T) {
	store := seedStore(t)

	got, err := store.ListByUser(context.Background(), "alice", Query{})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.After(got[i].Timestamp),
			"records must be ordered newest first")
	}
}

func TestListByUserIgnoresOtherUsers(t *testing.T) {
	store := seedStore(t)

	got, err := store.ListByUser(context.Background(), "bob", Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
}

func TestListByUserTimeRange(t *testing.T) {
	store := seedStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := store.ListByUser(context.Background(), "alice", Query{
		Start: base.Add(1 * time.Hour),
		End:   base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestListByUserPaging(t *testing.T) {
	store := seedStore(t)

	page1, err := store.ListByUser(context.Background(), "alice", Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := store.ListByUser(context.Background(), "alice", Query{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, page1[1].Timestamp.After(page2[0].Timestamp))

	// An offset past the end yields an empty page, not an error.
	empty, err := store.ListByUser(context.Background(), "alice", Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCountHighRisk(t *testing.T) {
	store := seedStore(t)

	// alice's scores are 0, 20, 40, 60, 80.
	count, err := store.CountHighRisk(context.Background(), "alice", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountHighRisk(context.Background(), "nobody", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSaveAfterClose(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	err := store.Save(context.Background(), &domain.AuditRecord{UserID: "alice"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSaveCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, &domain.AuditRecord{UserID: "alice"})
	assert.ErrorIs(t, err, context.Canceled)
}
