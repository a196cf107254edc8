package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestValidateSQLiteFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fs      string
		wantErr string
	}{
		{name: "local ext4 magic", fs: "0xef53"},
		{name: "local apfs", fs: "apfs"},
		{name: "nfs", fs: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "smb2", fs: "smb2", wantErr: "trace.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateSQLiteFilesystemWithDetector(filepath.Join(t.TempDir(), "trace.db"), fixedFS(tt.fs))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSQLiteFilesystemInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := validateSQLiteFilesystemWithDetector(filepath.Join(root, "runs", "today", "trace.db"), func(path string) (string, error) {
		inspected = path
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestValidateSQLiteFilesystemRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	assert.Error(t, validateSQLiteFilesystemWithDetector("", fixedFS("apfs")))
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	assert.True(t, isNetworkFilesystem(" CIFS "))
	assert.True(t, isNetworkFilesystem("webdav"))
	assert.False(t, isNetworkFilesystem("tmpfs"))
	assert.False(t, isNetworkFilesystem("0x6969"), "raw magic numbers are not names")
}
