package ssh

import (
	"io"
	"sync"

	"github.com/gdamore/tcell/v2"
	gossh "golang.org/x/crypto/ssh"
)

// channelTty lets tcell draw on an SSH session channel. The client's
// terminal is already raw, so Start and Drain have nothing to do.
type channelTty struct {
	channel gossh.Channel
	term    string

	mu      sync.Mutex
	size    tcell.WindowSize
	onSize  func()
	stopped bool
}

var _ tcell.Tty = (*channelTty)(nil)

func newChannelTty(channel gossh.Channel, term string, width, height int) *channelTty {
	if term == "" {
		term = "xterm-256color"
	}
	return &channelTty{
		channel: channel,
		term:    term,
		size:    tcell.WindowSize{Width: width, Height: height},
	}
}

func (t *channelTty) Start() error { return nil }
func (t *channelTty) Drain() error { return nil }

// Stop makes further reads return EOF. The channel stays open so the
// screen can still write its restore sequence.
func (t *channelTty) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

func (t *channelTty) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *channelTty) NotifyResize(cb func()) {
	t.mu.Lock()
	t.onSize = cb
	t.mu.Unlock()
}

func (t *channelTty) WindowSize() (tcell.WindowSize, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size, nil
}

// resize applies a window-change request from the client.
func (t *channelTty) resize(width, height int) {
	t.mu.Lock()
	t.size = tcell.WindowSize{Width: width, Height: height}
	cb := t.onSize
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (t *channelTty) Read(b []byte) (int, error) {
	if t.isStopped() {
		return 0, io.EOF
	}
	n, err := t.channel.Read(b)
	if err != nil && t.isStopped() {
		return 0, io.EOF
	}
	return n, err
}

func (t *channelTty) Write(b []byte) (int, error) {
	return t.channel.Write(b)
}

func (t *channelTty) Close() error {
	t.Stop()
	return t.channel.Close()
}
