package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const fileStamp = "2006-01-02 15:04:05.000"

// FileLogger mirrors operator log lines into an append-only file. When a
// size limit is set the file is rotated to path+".1" once it grows past it.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	size    int64
	maxSize int64
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, size, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{path: path, f: f, size: size}, nil
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// SetMaxSize sets the rotation threshold in bytes. Zero disables rotation.
func (l *FileLogger) SetMaxSize(n int64) {
	l.mu.Lock()
	l.maxSize = n
	l.mu.Unlock()
}

// Log writes a formatted line with no level tag.
func (l *FileLogger) Log(format string, args ...any) {
	l.Entry("", fmt.Sprintf(format, args...))
}

// Entry writes msg tagged with level. Writes after Close are dropped.
func (l *FileLogger) Entry(level, msg string) {
	if l == nil {
		return
	}
	line := time.Now().Format(fileStamp) + " "
	if level != "" {
		line += "[" + level + "] "
	}
	line += msg + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(line)) > l.maxSize {
		l.rotate()
	}
	n, _ := l.f.WriteString(line)
	l.size += int64(n)
}

// rotate moves the current file aside. If the new file cannot be opened,
// later lines are dropped.
func (l *FileLogger) rotate() {
	if err := l.f.Close(); err != nil {
		return
	}
	os.Rename(l.path, l.path+".1")
	f, size, err := openAppend(l.path)
	if err != nil {
		l.f = nil
		return
	}
	l.f, l.size = f, size
}

// Close closes the file. It is safe to call more than once.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
