package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeSink struct {
	mu      sync.Mutex
	changes []Change
}

func (s *changeSink) add(c Change) {
	s.mu.Lock()
	s.changes = append(s.changes, c)
	s.mu.Unlock()
}

func (s *changeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

func (s *changeSink) last() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes[len(s.changes)-1]
}

func TestMemoryNotifiesOtherTabsOnly(t *testing.T) {
	area := NewMemory()
	writer, reader := area.Tab(), area.Tab()

	var own, other changeSink
	writer.Watch(own.add)
	reader.Watch(other.add)

	require.NoError(t, writer.Set(KeyProfile, `{"userId":"u1"}`))

	assert.Eventually(t, func() bool { return other.len() == 1 }, time.Second, 5*time.Millisecond)
	c := other.last()
	assert.Equal(t, KeyProfile, c.Key)
	assert.Equal(t, writer.ID(), c.Origin)
	assert.Nil(t, c.OldValue)
	require.NotNil(t, c.NewValue)
	assert.Equal(t, `{"userId":"u1"}`, *c.NewValue)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, own.len())

	v, ok, err := reader.Get(KeyProfile)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"userId":"u1"}`, v)
}

func TestMemoryIdenticalWriteIsSilent(t *testing.T) {
	area := NewMemory()
	writer, reader := area.Tab(), area.Tab()
	var sink changeSink
	reader.Watch(sink.add)

	require.NoError(t, writer.Set("k", "v"))
	require.NoError(t, writer.Set("k", "v"))
	require.NoError(t, writer.Remove("missing"))

	assert.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.len())
}

func TestMemoryChangedValueAfterRepeatIsAnnounced(t *testing.T) {
	area := NewMemory()
	writer, reader := area.Tab(), area.Tab()
	var sink changeSink
	reader.Watch(sink.add)

	require.NoError(t, writer.Set("k", "v"))
	require.NoError(t, writer.Set("k", "v"))
	require.NoError(t, writer.Set("k", "w"))
	require.NoError(t, writer.Remove("k"))
	require.NoError(t, writer.Set("k", "w"))

	assert.Eventually(t, func() bool { return sink.len() == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, sink.len())
	v, ok, err := reader.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "w", v)
}

func TestMemoryRemoveAnnouncesNilValue(t *testing.T) {
	area := NewMemory()
	writer, reader := area.Tab(), area.Tab()
	require.NoError(t, writer.Set("k", "v"))

	var sink changeSink
	reader.Watch(sink.add)
	require.NoError(t, writer.Remove("k"))

	assert.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	c := sink.last()
	assert.True(t, c.Removed())
	require.NotNil(t, c.OldValue)
	assert.Equal(t, "v", *c.OldValue)
	assert.Equal(t, 0, area.Len())
}

func TestMemoryWatchCancelAndClose(t *testing.T) {
	area := NewMemory()
	writer, reader := area.Tab(), area.Tab()
	var sink changeSink
	cancel := reader.Watch(sink.add)
	assert.Equal(t, 1, reader.WatcherCount())
	cancel()
	cancel()
	assert.Equal(t, 0, reader.WatcherCount())

	require.NoError(t, writer.Set("k", "v"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.len())

	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())
	_, _, err := reader.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, reader.Set("k", "x"), ErrClosed)
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaka.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)

	_, ok, err := db.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Set(KeyAccessToken, "tok1"))
	require.NoError(t, db.Set(KeyAccessToken, "tok2"))
	v, ok, err := db.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok2", v)
	require.NoError(t, db.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err = reopened.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok2", v)

	require.NoError(t, reopened.Remove(KeyAccessToken))
	_, ok, err = reopened.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
}
