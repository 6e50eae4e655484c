package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockExclusive(t *testing.T) {
	db := newTestDB(t)
	lock := NewAdvisoryLock(db, time.Hour)

	acquired, err := lock.Acquire("holder-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = lock.Acquire("holder-b")
	require.NoError(t, err)
	assert.False(t, acquired, "second acquire must be refused while the lock is held")

	holder, err := lock.Holder()
	require.NoError(t, err)
	assert.Equal(t, "holder-a", holder)
}

func TestAdvisoryLockReleaseThenReacquire(t *testing.T) {
	db := newTestDB(t)
	lock := NewAdvisoryLock(db, time.Hour)

	acquired, err := lock.Acquire("holder-a")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, lock.Release("holder-a"))

	acquired, err = lock.Acquire("holder-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAdvisoryLockReleaseIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	lock := NewAdvisoryLock(db, time.Hour)

	assert.NoError(t, lock.Release("nobody"), "releasing an unheld lock is a no-op")

	acquired, err := lock.Acquire("holder-a")
	require.NoError(t, err)
	require.True(t, acquired)

	// A non-holder's release must not free the lock.
	require.NoError(t, lock.Release("holder-b"))
	acquired, err = lock.Acquire("holder-b")
	require.NoError(t, err)
	assert.False(t, acquired)

	// Double-release by the holder stays a no-op.
	require.NoError(t, lock.Release("holder-a"))
	require.NoError(t, lock.Release("holder-a"))
}

func TestAdvisoryLockStaleReclaim(t *testing.T) {
	db := newTestDB(t)
	lock := NewAdvisoryLock(db, time.Hour)

	acquired, err := lock.Acquire("crashed-holder")
	require.NoError(t, err)
	require.True(t, acquired)

	// Within the TTL the lock stays with its holder.
	acquired, err = lock.Acquire("holder-b")
	require.NoError(t, err)
	assert.False(t, acquired)

	// Advance the clock past the TTL: the lock is reclaimable.
	lock.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	acquired, err = lock.Acquire("holder-b")
	require.NoError(t, err)
	assert.True(t, acquired, "expired lock must be reclaimable")

	holder, err := lock.Holder()
	require.NoError(t, err)
	assert.Equal(t, "holder-b", holder)
}
