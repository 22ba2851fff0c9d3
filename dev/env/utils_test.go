package devenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsWorkspaceRoot(t *testing.T) {
	dir := t.TempDir()
	require.False(t, isWorkspaceRoot(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module other-module\n\ngo 1.22\n"), 0600))
	require.False(t, isWorkspaceRoot(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module ccr-client\n\ngo 1.22.2\n"), 0600))
	require.True(t, isWorkspaceRoot(dir))
}

func TestGetWorkspaceRoot(t *testing.T) {
	root, err := GetWorkspaceRoot()
	require.NoError(t, err)
	require.True(t, isWorkspaceRoot(root))

	path, err := GetStateFilePath(CcrTestConfigFile)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "dev", ".state", CcrTestConfigFile), path)
}

func TestResolvePath(t *testing.T) {
	path, err := ResolvePath("/tmp/dump")
	require.NoError(t, err)
	require.Equal(t, "/tmp/dump", path)

	root, err := GetWorkspaceRoot()
	require.NoError(t, err)
	path, err = ResolvePath("<dev_state>/ccr_messages")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "dev", ".state", "ccr_messages"), path)
}
