// File: pkg/browser/profile_test.go

package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPrepareProfileDir(t *testing.T) {
	logger := zap.NewNop()

	t.Run("EmptyBaseDisablesProfiles", func(t *testing.T) {
		dir, err := prepareProfileDir("", "aut", logger)
		require.NoError(t, err)
		assert.Empty(t, dir)
	})

	t.Run("CreatesPerCountryDir", func(t *testing.T) {
		base := t.TempDir()
		dir, err := prepareProfileDir(base, "hrv", logger)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "hrv"), dir)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("StaleLockWarnsAndProceeds", func(t *testing.T) {
		base := t.TempDir()
		dir := filepath.Join(base, "aut")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "parent.lock"), nil, 0o644))

		got, err := prepareProfileDir(base, "aut", logger)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})
}
