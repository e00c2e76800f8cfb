package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittostore/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_UnknownCommand(t *testing.T) {
	err := run([]string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRun_NoCommand(t *testing.T) {
	require.Error(t, run(nil))
}

func TestRun_InitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, run([]string{"init", "--config", path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256", cfg.Hash.Algorithm)

	err = run([]string{"init", "--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, run([]string{"init", "-f", "-c", path}))
}

func TestRun_UploadArguments(t *testing.T) {
	err := run([]string{"upload"})
	require.Error(t, err)

	err = run([]string{"upload", "--codec", "json", "file.txt"})
	require.Error(t, err)

	missing := filepath.Join(t.TempDir(), "missing.txt")
	err = run([]string{"upload", missing})
	require.ErrorIs(t, err, os.ErrNotExist)
}
