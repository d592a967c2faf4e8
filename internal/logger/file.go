package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends level-filtered, timestamped lines to the active
// dual-log file, and supports rotating that file to a per-batch
// archive name. Grounded on the teacher's FileLogger (MkdirAll +
// append-mode OpenFile + mutex-guarded writes + level filtering),
// adapted to spec.md §6's "logs/current.log, rotated per batch to
// logs/raid-{batchId}-{ISO}.log" naming instead of the teacher's
// run-*.log + latest.log symlink convention.
type FileLogger struct {
	logDir   string
	logLevel string

	mu      sync.Mutex
	current *os.File
}

const currentLogName = "current.log"

// NewFileLogger opens (creating if needed) logDir/current.log for
// appending at the given level.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, currentLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open current log: %w", err)
	}
	return &FileLogger{
		logDir:   logDir,
		logLevel: normalizeLogLevel(logLevel),
		current:  f,
	}, nil
}

func (fl *FileLogger) shouldLog(level string) bool {
	return logLevelToInt(level) >= logLevelToInt(fl.logLevel)
}

// Printf satisfies the narrow Logger interface shared by
// mergequeue/orchestrator/metatask.
func (fl *FileLogger) Printf(format string, args ...interface{}) {
	fl.write("info", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) Infof(format string, args ...interface{})  { fl.Printf(format, args...) }
func (fl *FileLogger) Debugf(format string, args ...interface{}) { fl.write("debug", fmt.Sprintf(format, args...)) }
func (fl *FileLogger) Warnf(format string, args ...interface{})  { fl.write("warn", fmt.Sprintf(format, args...)) }
func (fl *FileLogger) Errorf(format string, args ...interface{}) { fl.write("error", fmt.Sprintf(format, args...)) }

func (fl *FileLogger) write(level, message string) {
	if !fl.shouldLog(level) {
		return
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.current == nil {
		return
	}
	ts := time.Now().Format(time.RFC3339)
	_, _ = fl.current.WriteString(fmt.Sprintf("[%s] [%s] %s\n", ts, levelLabel(level), message))
}

// Rotate closes the current log, renames it to
// raid-{batchID}-{ISO}.log, and opens a fresh current.log in its
// place. Per spec.md §6, rotation happens once per batch.
func (fl *FileLogger) Rotate(batchID string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.current != nil {
		if err := fl.current.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
	}

	archiveName := fmt.Sprintf("raid-%s-%s.log", batchID, time.Now().UTC().Format("20060102T150405Z"))
	currentPath := filepath.Join(fl.logDir, currentLogName)
	archivePath := filepath.Join(fl.logDir, archiveName)
	if _, err := os.Stat(currentPath); err == nil {
		if err := os.Rename(currentPath, archivePath); err != nil {
			return fmt.Errorf("archive current log: %w", err)
		}
	}

	f, err := os.OpenFile(currentPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen current log: %w", err)
	}
	fl.current = f
	return nil
}

// Close flushes and closes the active log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.current == nil {
		return nil
	}
	err := fl.current.Close()
	fl.current = nil
	return err
}
