package tui

import (
	"fmt"
	"sync"
	"time"

	"floorview/logging"
)

// LogMessage is one line in the debug log. Level is empty for plain
// messages, otherwise a tag such as ERROR, MQTT, KAFKA, VALKEY, POLL, SSH.
type LogMessage struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// DebugStoreListenerID identifies a Subscribe registration.
type DebugStoreListenerID uint64

// DebugLogStore keeps the newest lines of the debug log in a fixed ring
// and fans new lines out to subscribers. The Debug tab and the browser
// debug page share the process-wide instance.
type DebugLogStore struct {
	mu    sync.Mutex
	ring  []LogMessage
	start int
	n     int
	seq   uint64
	file  *logging.FileLogger

	subMu  sync.Mutex
	subs   map[DebugStoreListenerID]func(LogMessage)
	nextID DebugStoreListenerID
}

var (
	globalDebugStore *DebugLogStore
	storeOnce        sync.Once
)

// InitDebugStore creates the process-wide store holding maxLines lines.
// Later calls are ignored.
func InitDebugStore(maxLines int) {
	storeOnce.Do(func() { globalDebugStore = newDebugStore(maxLines) })
}

func newDebugStore(maxLines int) *DebugLogStore {
	if maxLines < 1 {
		maxLines = 1
	}
	return &DebugLogStore{
		ring: make([]LogMessage, maxLines),
		subs: make(map[DebugStoreListenerID]func(LogMessage)),
	}
}

// GetDebugStore returns the process-wide store, or nil before InitDebugStore.
func GetDebugStore() *DebugLogStore { return globalDebugStore }

// Log records a formatted line, mirrors it to the file logger when one is
// set and notifies subscribers on their own goroutines. A line is dropped
// from the ring rather than blocking when the store is busy.
func (s *DebugLogStore) Log(level, format string, args ...interface{}) {
	msg := LogMessage{Timestamp: time.Now(), Level: level, Message: fmt.Sprintf(format, args...)}

	if !s.mu.TryLock() {
		s.mirror(msg, s.fileLogger())
		return
	}
	file := s.file
	s.ring[(s.start+s.n)%len(s.ring)] = msg
	if s.n < len(s.ring) {
		s.n++
	} else {
		s.start = (s.start + 1) % len(s.ring)
	}
	s.seq++
	s.mu.Unlock()

	s.mirror(msg, file)

	s.subMu.Lock()
	subs := make([]func(LogMessage), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		go fn(msg)
	}
}

func (s *DebugLogStore) fileLogger() *logging.FileLogger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *DebugLogStore) mirror(msg LogMessage, file *logging.FileLogger) {
	if file == nil {
		return
	}
	file.Entry(msg.Level, msg.Message)
}

// Subscribe registers fn for every new line.
func (s *DebugLogStore) Subscribe(fn func(LogMessage)) DebugStoreListenerID {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	s.subs[s.nextID] = fn
	return s.nextID
}

// Unsubscribe drops a registration; unknown ids are ignored.
func (s *DebugLogStore) Unsubscribe(id DebugStoreListenerID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// GetMessages returns the stored lines, oldest first.
func (s *DebugLogStore) GetMessages() []LogMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogMessage, s.n)
	for i := range out {
		out[i] = s.ring[(s.start+i)%len(s.ring)]
	}
	return out
}

// Seq counts lines ever recorded. It changes whenever the content does,
// including once the ring is full.
func (s *DebugLogStore) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Len is the number of stored lines.
func (s *DebugLogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// MaxLines is the ring capacity.
func (s *DebugLogStore) MaxLines() int { return len(s.ring) }

// Clear empties the ring.
func (s *DebugLogStore) Clear() {
	s.mu.Lock()
	s.start, s.n = 0, 0
	s.seq++
	s.mu.Unlock()
}

// SetFileLogger mirrors future lines to logger; nil stops mirroring.
func (s *DebugLogStore) SetFileLogger(logger *logging.FileLogger) {
	s.mu.Lock()
	s.file = logger
	s.mu.Unlock()
}

// StoreLog records an untagged line in the process-wide store.
func StoreLog(format string, args ...interface{}) {
	StoreLogLevel("", format, args...)
}

// StoreLogLevel records a tagged line in the process-wide store.
func StoreLogLevel(level, format string, args ...interface{}) {
	if s := globalDebugStore; s != nil {
		s.Log(level, format, args...)
	}
}
