package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFilesOverlaysLocalOverBase(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEO_INGEST_TEST_VAR=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("GEO_INGEST_TEST_VAR=local\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("GEO_INGEST_TEST_VAR") })

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "local", os.Getenv("GEO_INGEST_TEST_VAR"))
}

func TestLoadEnvFilesMissingFilesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	assert.NoError(t, LoadEnvFiles())
}
