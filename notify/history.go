package notify

import (
	"sort"
	"sync"
	"time"
)

const defaultHistory = 10000

type stamped struct {
	at   time.Time
	data []byte
}

// history keeps the latest encoded events so reconnecting clients can ask
// for what they missed. Entries are appended in time order.
type history struct {
	mu    sync.Mutex
	limit int
	items []stamped
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &history{limit: limit}
}

// add records a copy of data, dropping the oldest entries past the limit.
func (h *history) add(data []byte, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, stamped{at: at, data: append([]byte(nil), data...)})
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

// after returns the events stamped strictly after t, oldest first.
func (h *history) after(t time.Time) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := sort.Search(len(h.items), func(i int) bool { return h.items[i].at.After(t) })
	out := make([][]byte, 0, len(h.items)-i)
	for _, it := range h.items[i:] {
		out = append(out, it.data)
	}
	return out
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
