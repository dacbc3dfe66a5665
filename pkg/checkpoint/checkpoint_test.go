package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchID(t *testing.T) {
	a := BatchID([]byte("news: []"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, BatchID([]byte("news: []")))
	assert.NotEqual(t, a, BatchID([]byte("news: [x]")))
}

func TestPathValidation(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../x", "a/b", `a\b`, "a\x00b"} {
		_, err := m.Path(id)
		assert.ErrorIs(t, err, ErrInvalidBatchID, "%q", id)
	}
	p, err := m.Path("abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "checkpoint_abc.json"), p)
}

func TestStartSaveResume(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	cp, err := m.Start(ctx, "b1", "news.yaml", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.AttemptCount)
	assert.Equal(t, 0, cp.Next)
	assert.False(t, cp.Done())

	cp.Next = 4
	cp.Accepted = 3
	cp.Rejected = 1
	require.NoError(t, m.RecordError(ctx, cp, errors.New("embedding provider down")))

	resumed, err := m.Start(ctx, "b1", "news.yaml", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.AttemptCount)
	assert.Equal(t, 4, resumed.Next)
	assert.Equal(t, 3, resumed.Accepted)
	assert.Equal(t, "embedding provider down", resumed.LastError)

	resumed.Next = 10
	assert.True(t, resumed.Done())

	require.NoError(t, m.Delete(ctx, "b1"))
	require.NoError(t, m.Delete(ctx, "b1"))
	got, err := m.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAndCleanOld(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	for _, id := range []string{"old", "new"} {
		cp, err := m.Start(ctx, id, id+".yaml", 1)
		require.NoError(t, err)
		require.NoError(t, m.Save(ctx, cp))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{"), 0644))

	cps, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cps, 2)

	old, err := m.Load(ctx, "old")
	require.NoError(t, err)
	old.LastUpdatedAt = time.Now().Add(-48 * time.Hour)
	// Save stamps LastUpdatedAt, so write the stale copy by hand.
	path, _ := m.Path("old")
	data := []byte(`{"batch_id":"old","last_updated_at":"` + old.LastUpdatedAt.Format(time.RFC3339Nano) + `"}`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	removed, err := m.CleanOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	cps, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "new", cps[0].BatchID)
}
