// Package logging configures the process-wide logrus logger from
// config.LoggerConfig.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/JMRMEDEV/ev5-dev-tools/config"
)

// TimestampFormat is used by both formatters.
const TimestampFormat = "2006-01-02 15:04:05.000"

var (
	mu       sync.Mutex
	rotating *lumberjack.Logger
)

// Init sets level, formatter and outputs of the standard logrus logger.
// With a file path, logs also go to a size-rotated file.
func Init(cfg config.LoggerConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %s, %w", cfg.Level, err)
	}

	var formatter logrus.Formatter
	if strings.ToLower(cfg.Format) == "json" {
		formatter = &logrus.JSONFormatter{TimestampFormat: TimestampFormat}
	} else {
		formatter = &logrus.TextFormatter{
			TimestampFormat: TimestampFormat,
			FullTimestamp:   true,
		}
	}

	var writers []io.Writer
	if cfg.EnableConsole {
		writers = append(writers, os.Stderr)
	}

	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		writers = append(writers, rotating)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)
	logrus.SetOutput(io.MultiWriter(writers...))

	logrus.WithFields(logrus.Fields{
		"function": "Init",
		"level":    level.String(),
		"format":   cfg.Format,
		"file":     cfg.FilePath,
		"hex_dump": cfg.LogHexDump,
	}).Debug("Logger initialised")

	return nil
}

// Close flushes and closes the rotating log file, if any. Output falls
// back to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	logrus.SetOutput(os.Stderr)
	return closeLocked()
}

func closeLocked() error {
	if rotating == nil {
		return nil
	}
	err := rotating.Close()
	rotating = nil
	return err
}
