package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// DebugLogger writes verbose diagnostics to a dedicated file: backend
// requests and bodies, poll ticks, layout saves and sink traffic.
type DebugLogger struct {
	file    *os.File
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // empty = log all
	maxDump int
}

var globalDebugLogger *DebugLogger
var globalDebugMu sync.RWMutex

// Categories lists the names components log under.
var Categories = []string{
	"poll",
	"layout",
	"telemetry",
	"client",
	"web",
	"websocket",
	"mqtt",
	"kafka",
	"valkey",
	"tui",
	"debug",
}

// related expands a filter entry into the categories it implies.
var related = map[string][]string{
	"telemetry": {"poll"},
	"web":       {"websocket"},
	"sinks":     {"mqtt", "kafka", "valkey"},
}

// DefaultMaxDump caps how many body bytes are hex dumped per message.
const DefaultMaxDump = 512

// NewDebugLogger creates a debug log at path, truncating any previous session.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}

	logger := &DebugLogger{
		file:    file,
		filters: make(map[string]bool),
		maxDump: DefaultMaxDump,
	}
	logger.Log("DEBUG", "Debug logging started - %s", time.Now().Format(time.RFC3339))
	return logger, nil
}

// SetFilter restricts logging to a comma-separated list of categories.
// Empty means everything. Matching is case-insensitive.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)
	for _, c := range strings.Split(filter, ",") {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		l.filters[c] = true
		for _, r := range related[c] {
			l.filters[r] = true
		}
	}

	if len(l.filters) > 0 {
		list := make([]string, 0, len(l.filters))
		for c := range l.filters {
			list = append(list, c)
		}
		sort.Strings(list)
		l.writeLine("DEBUG", "Filtering enabled for: "+strings.Join(list, ", "))
	}
}

// SetMaxDump sets how many body bytes LogBody dumps. Zero or less disables the cap.
func (l *DebugLogger) SetMaxDump(n int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.maxDump = n
	l.mu.Unlock()
}

// Must be called with l.mu held.
func (l *DebugLogger) shouldLog(category string) bool {
	if len(l.filters) == 0 {
		return true
	}
	c := strings.ToLower(category)
	return l.filters[c] || c == "debug"
}

// Must be called with l.mu held.
func (l *DebugLogger) writeLine(category, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s\n", timestamp, category, msg)
}

// SetGlobalDebugLogger installs the logger used by DebugLog and friends.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the installed debug logger, or nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes a formatted message under a category.
func (l *DebugLogger) Log(category, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(category) {
		return
	}
	l.writeLine(category, fmt.Sprintf(format, args...))
}

// LogBody writes a request or response body as a hex dump.
func (l *DebugLogger) LogBody(category, direction string, body []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(category) {
		return
	}

	data := body
	truncated := false
	if l.maxDump > 0 && len(data) > l.maxDump {
		data = data[:l.maxDump]
		truncated = true
	}
	l.writeLine(category, fmt.Sprintf("%s (%d bytes):", direction, len(body)))
	fmt.Fprintf(l.file, "%s\n", hexDump(data))
	if truncated {
		fmt.Fprintf(l.file, "    ... %d more bytes\n", len(body)-len(data))
	}
}

// LogRequest records an outgoing backend call and its outcome.
func (l *DebugLogger) LogRequest(method, url string, status int, elapsed time.Duration, err error) {
	if err != nil {
		l.Log("client", "%s %s failed after %v: %v", method, url, elapsed.Round(time.Millisecond), err)
		return
	}
	l.Log("client", "%s %s -> %d (%v)", method, url, status, elapsed.Round(time.Millisecond))
}

// LogError logs an error with context.
func (l *DebugLogger) LogError(category, context string, err error) {
	l.Log(category, "ERROR in %s: %v", context, err)
}

// Close writes a footer and closes the file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.writeLine("DEBUG", "Debug logging ended")
	return l.file.Close()
}

// hexDump renders data as offset, two groups of eight hex bytes and ASCII:
//
//	0000: 7B 22 6E 6F 64 65 73 22  3A 5B 5D 7D              {"nodes":[]}
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("    %04X: ", offset))
		for i := 0; i < 16; i++ {
			if i == 8 {
				sb.WriteString(" ")
			}
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")
		for i := 0; i < 16 && offset+i < len(data); i++ {
			b := data[offset+i]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// DebugLog logs through the global debug logger if one is installed.
func DebugLog(category, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(category, format, args...)
	}
}

// DebugBody dumps a body through the global debug logger.
func DebugBody(category, direction string, body []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogBody(category, direction, body)
	}
}

// DebugRequest records a backend call through the global debug logger.
func DebugRequest(method, url string, status int, elapsed time.Duration, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogRequest(method, url, status, elapsed, err)
	}
}

// DebugError logs an error through the global debug logger.
func DebugError(category, context string, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogError(category, context, err)
	}
}
