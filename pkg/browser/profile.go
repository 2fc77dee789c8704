// File: pkg/browser/profile.go

package browser

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Browser lock artifacts inside a profile directory. Presence of any of them
// suggests another process is using the profile.
var profileLockNames = []string{"lock", "parent.lock", ".parentlock"}

// prepareProfileDir creates (if needed) the per-country profile directory and
// performs an advisory lock check. Stale lock files are common after crashes,
// so a hit logs a warning and proceeds rather than failing the session.
func prepareProfileDir(baseDir, country string, logger *zap.Logger) (string, error) {
	if baseDir == "" {
		return "", nil
	}

	dir := filepath.Join(baseDir, country)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("browser: creating profile dir %s: %w", dir, err)
	}

	for _, name := range profileLockNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			logger.Warn("Profile directory appears locked by another process",
				zap.String("dir", dir), zap.String("lock_file", name))
			break
		}
	}
	return dir, nil
}
