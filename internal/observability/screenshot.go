// File: internal/observability/screenshot.go
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ScreenshotSink writes timestamped debug screenshots into a fixed directory.
// Capture failures are logged and swallowed: a missing screenshot must never
// abort the flow that asked for it.
type ScreenshotSink struct {
	dir    string
	logger *zap.Logger
}

// NewScreenshotSink creates the target directory if needed and returns the sink.
func NewScreenshotSink(dir string, logger *zap.Logger) *ScreenshotSink {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Failed to create screenshot directory", zap.String("dir", dir), zap.Error(err))
	}
	return &ScreenshotSink{dir: dir, logger: logger.Named("screenshot")}
}

// Save writes PNG bytes under a timestamped name and returns the path written.
// An empty byte slice (capture itself failed upstream) is logged and skipped.
func (s *ScreenshotSink) Save(name string, png []byte) string {
	if len(png) == 0 {
		s.logger.Warn("Empty screenshot buffer, nothing to save", zap.String("name", name))
		return ""
	}
	filename := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), name)
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		s.logger.Warn("Failed to write screenshot", zap.String("path", path), zap.Error(err))
		return ""
	}
	s.logger.Debug("Screenshot saved", zap.String("path", path))
	return path
}
