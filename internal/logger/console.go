package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/undercity-dev/undercity/internal/models"
)

// ConsoleLogger writes timestamped, level-filtered progress messages to
// a writer, with ANSI color automatically enabled when the writer is a
// TTY. It implements the narrow Printf(format, args...) Logger
// interfaces used by internal/mergequeue, internal/orchestrator, and
// internal/metatask, plus a handful of domain-specific helpers for
// richer task/merge-queue reporting.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	colorOutput bool
	verbose     bool

	mu sync.Mutex
}

// NewConsoleLogger builds a ConsoleLogger writing to writer at the
// given level (trace|debug|info|warn|error, default info). A nil
// writer discards everything.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

func isTerminal(w io.Writer) bool {
	switch w {
	case os.Stdout:
		return isatty.IsTerminal(os.Stdout.Fd())
	case os.Stderr:
		return isatty.IsTerminal(os.Stderr.Fd())
	default:
		return false
	}
}

// SetVerbose toggles multi-line task detail output.
func (cl *ConsoleLogger) SetVerbose(verbose bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.verbose = verbose
}

func (cl *ConsoleLogger) IsVerbose() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.verbose
}

func (cl *ConsoleLogger) shouldLog(level string) bool {
	return logLevelToInt(level) >= logLevelToInt(cl.logLevel)
}

// Printf logs a formatted message at info level, satisfying the
// mergequeue/orchestrator/metatask Logger interfaces.
func (cl *ConsoleLogger) Printf(format string, args ...interface{}) {
	cl.logWithLevel("info", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) Infof(format string, args ...interface{})  { cl.Printf(format, args...) }
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) { cl.logWithLevel("debug", fmt.Sprintf(format, args...)) }
func (cl *ConsoleLogger) Warnf(format string, args ...interface{})  { cl.logWithLevel("warn", fmt.Sprintf(format, args...)) }
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) { cl.logWithLevel("error", fmt.Sprintf(format, args...)) }

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	var line string
	if cl.colorOutput {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, colorizeLevel(level), message)
	} else {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, levelLabel(level), message)
	}
	_, _ = cl.writer.Write([]byte(line))
}

func levelLabel(level string) string {
	switch level {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func colorizeLevel(level string) string {
	label := levelLabel(level)
	switch level {
	case "trace":
		return color.New(color.FgHiBlack).Sprint(label)
	case "debug":
		return color.New(color.FgCyan).Sprint(label)
	case "warn":
		return color.New(color.FgYellow).Sprint(label)
	case "error":
		return color.New(color.FgRed).Sprint(label)
	default:
		return color.New(color.FgBlue).Sprint(label)
	}
}

// LogTaskStart announces a task being dispatched.
func (cl *ConsoleLogger) LogTaskStart(task models.Task) {
	if !cl.shouldLog("info") {
		return
	}
	name := task.Objective
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(name)
	}
	cl.Printf("dispatching %s: %s", task.ID, name)
}

// LogTaskOutcome reports a task's terminal status.
func (cl *ConsoleLogger) LogTaskOutcome(task models.Task, succeeded bool) {
	if !cl.shouldLog("info") {
		return
	}
	status := "failed"
	if succeeded {
		status = "complete"
	}
	if cl.colorOutput {
		if succeeded {
			status = color.New(color.FgGreen).Sprint(status)
		} else {
			status = color.New(color.FgRed).Sprint(status)
		}
	}
	cl.Printf("task %s %s", task.ID, status)
}

// LogMergeQueueItem reports a merge queue item's current status.
func (cl *ConsoleLogger) LogMergeQueueItem(item models.MergeQueueItem) {
	if !cl.shouldLog("info") {
		return
	}
	cl.Printf("merge queue: %s (%s) -> %s", item.Branch, item.SourceTaskID, item.Status)
}

// LogBatchSummary reports a batch's final tallies.
func (cl *ConsoleLogger) LogBatchSummary(batchID string, completed, failed, pending int) {
	if !cl.shouldLog("info") {
		return
	}
	cl.Printf("batch %s: %d complete, %d failed, %d pending", batchID, completed, failed, pending)
}
