package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-multitest/types"
)

const (
	RunDirectoryPrefix = "testrun-"
	FailedDirName      = "failed"
	SummaryFilename    = "summary.log"
	AllLogsFilename    = "all.log"
)

// FileLogger persists the captured output of every unit of a run:
//
//	<baseDir>/testrun-<runID>/<unit>.log
//	<baseDir>/testrun-<runID>/failed/<unit>.log
//	<baseDir>/testrun-<runID>/all.log
//	<baseDir>/testrun-<runID>/summary.log
type FileLogger struct {
	baseDir   string
	logDir    string
	failedDir string
	runID     string

	mu      sync.Mutex
	allLogs *AsyncFile
	written map[string]bool
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data.
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close drains pending writes and closes the file.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, FailedDirName)
	for _, dir := range []string{baseDir, logDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	allLogs, err := NewAsyncFile(filepath.Join(logDir, AllLogsFilename))
	if err != nil {
		return nil, err
	}

	return &FileLogger{
		baseDir:   baseDir,
		logDir:    logDir,
		failedDir: failedDir,
		runID:     runID,
		allLogs:   allLogs,
		written:   make(map[string]bool),
	}, nil
}

// Consume stores the output of one unit. Bad outcomes are also written to
// the failed directory. A unit is written at most once per run.
func (l *FileLogger) Consume(runID string, unit string, outcome types.Outcome, stdout, stderr string) error {
	if runID != l.runID {
		return fmt.Errorf("runID %s does not match logger run %s", runID, l.runID)
	}

	l.mu.Lock()
	if l.written[unit] {
		l.mu.Unlock()
		return nil
	}
	l.written[unit] = true
	l.mu.Unlock()

	content := formatUnitLog(unit, outcome, stdout, stderr)
	filename := safeFilename(unit) + ".log"

	if err := os.WriteFile(filepath.Join(l.logDir, filename), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write log for %s: %w", unit, err)
	}
	if outcome.Kind.IsBad() {
		if err := os.WriteFile(filepath.Join(l.failedDir, filename), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write failed log for %s: %w", unit, err)
		}
	}

	entry := fmt.Sprintf("[%s] %s %s (%s)\n", time.Now().Format(time.RFC3339), outcome.Kind, unit, formatDuration(outcome.Duration))
	if outcome.Message != "" {
		entry += indentText(stripansi.Strip(outcome.Message), "    ") + "\n"
	}
	return l.allLogs.Write([]byte(entry))
}

// LogSummary writes the end-of-run summary next to the unit logs.
func (l *FileLogger) LogSummary(summary string) error {
	path := filepath.Join(l.logDir, SummaryFilename)
	if err := os.WriteFile(path, []byte(stripansi.Strip(summary)), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Complete flushes and closes the combined log.
func (l *FileLogger) Complete() error {
	return l.allLogs.Close()
}

// LogDir returns the directory of this run.
func (l *FileLogger) LogDir() string {
	return l.logDir
}

func (l *FileLogger) FailedDir() string {
	return l.failedDir
}

func formatUnitLog(unit string, outcome types.Outcome, stdout, stderr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unit: %s\n", unit)
	fmt.Fprintf(&b, "Outcome: %s\n", outcome.Kind)
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(outcome.Duration))
	if outcome.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", stripansi.Strip(outcome.Message))
	}
	if stdout != "" {
		b.WriteString("\n--- stdout ---\n")
		b.WriteString(stripansi.Strip(stdout))
		b.WriteString("\n")
	}
	if stderr != "" {
		b.WriteString("\n--- stderr ---\n")
		b.WriteString(stripansi.Strip(stderr))
		b.WriteString("\n")
	}
	return b.String()
}

// safeFilename converts a unit name to a flat file name.
func safeFilename(s string) string {
	s = strings.TrimPrefix(s, "./")
	if s == "." || s == "" {
		return "root"
	}
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"...", "",
	)
	return replacer.Replace(s)
}

func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
