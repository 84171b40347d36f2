package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRecordsOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "vehicled.lock")
	l, err := Acquire(path, "vehicle-007")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, path, l.Path())
	owner, err := ReadOwner(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "vehicle-007", owner.VehicleID)
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vehicled.lock")
	first, err := Acquire(path, "vehicle-001")
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts just like another daemon would.
	_, err = Acquire(path, "vehicle-002")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHeld))
	assert.Contains(t, err.Error(), "vehicle-001")

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := Acquire(path, "vehicle-002")
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("", "v")
	assert.Error(t, err)
}

func TestReadOwnerMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))
	_, err := ReadOwner(path)
	assert.Error(t, err)
}

func TestReleaseNil(t *testing.T) {
	var l *DeviceLock
	assert.NoError(t, l.Release())
}
