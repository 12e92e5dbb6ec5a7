// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/pex/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(root string) config.AppConfig {
	cfg := config.AppConfig{CacheDir: root}
	cfg.Mirror.Freshness = config.DefaultMirrorFreshness
	cfg.Assets.Retention = config.DefaultAssetRetention
	cfg.Assets.MaxEntries = 10
	cfg.Schedule.AirtimeTolerance = config.DefaultAirtimeTolerance
	return cfg
}

func TestOpenCreatesLayoutAndLocks(t *testing.T) {
	root := t.TempDir()

	ws, err := Open(testConfig(root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	for _, dir := range []string{ws.DBDir, ws.PostersDir, ws.IconsDir, ws.ProbeDir} {
		fi, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	assert.Equal(t, config.DefaultMirrorFreshness, ws.Freshness)
	assert.Equal(t, 10, ws.MaxAssets)

	_, err = Open(testConfig(root))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestOpenReleasesOnClose(t *testing.T) {
	root := t.TempDir()
	ws, err := Open(testConfig(root))
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	ws2, err := Open(testConfig(root))
	require.NoError(t, err)
	require.NoError(t, ws2.Close())
}

func TestOpenFailsWhenRootIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := Open(testConfig(file))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}
