package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := Acquire(dir, "/dev/ttyUSB0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, filepath.Join(dir, "dev_ttyUSB0.lock"), l.Path())
	b, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Acquire(dir, "/dev/mem")
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	_, err = Acquire(dir, "/dev/mem")
	require.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "pid")

	other, err := Acquire(dir, "/dev/ttyACM0")
	require.NoError(t, err, "different devices do not conflict")
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	again, err := Acquire(dir, "/dev/mem")
	require.NoError(t, err)
	require.NoError(t, again.Release())
	require.NoError(t, again.Release())
}

func TestAcquireValidatesArguments(t *testing.T) {
	_, err := Acquire("", "/dev/mem")
	assert.Error(t, err)
	_, err = Acquire(t.TempDir(), "")
	assert.Error(t, err)
}

func TestLockPath(t *testing.T) {
	tests := []struct {
		device string
		want   string
	}{
		{"/dev/ttyUSB0", "dev_ttyUSB0.lock"},
		{"COM3", "COM3.lock"},
		{"./plant.bin", "plant.bin.lock"},
		{"/", "device.lock"},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			assert.Equal(t, filepath.Join("locks", tt.want), LockPath("locks", tt.device))
		})
	}
}
