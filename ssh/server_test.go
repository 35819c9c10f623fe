package ssh

import (
	"path/filepath"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"floorview/config"
)

func startTestServer(t *testing.T, cfg config.SSHConfig) *Server {
	t.Helper()
	cfg.HostKey = filepath.Join(t.TempDir(), "host_key")
	s := NewServer(cfg, nil)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func dial(s *Server, auth gossh.AuthMethod) error {
	client, err := gossh.Dial("tcp", s.Addr().String(), &gossh.ClientConfig{
		User:            "operator",
		Auth:            []gossh.AuthMethod{auth},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err != nil {
		return err
	}
	return client.Close()
}

func TestListenRequiresAuth(t *testing.T) {
	s := NewServer(config.SSHConfig{HostKey: filepath.Join(t.TempDir(), "host_key")}, nil)
	if err := s.Listen("127.0.0.1:0"); err == nil {
		s.Stop()
		t.Fatal("Listen without credentials succeeded")
	}
	if s.IsRunning() {
		t.Error("server running after failed Listen")
	}
}

func TestPasswordHandshake(t *testing.T) {
	s := startTestServer(t, config.SSHConfig{Password: "s3cret"})

	if err := dial(s, gossh.Password("s3cret")); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := dial(s, gossh.Password("nope")); err == nil {
		t.Error("wrong password accepted")
	}
	if s.SessionCount() != 0 {
		t.Errorf("sessions = %d without a shell request", s.SessionCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := startTestServer(t, config.SSHConfig{Password: "x"})
	s.Stop()
	if s.IsRunning() || s.Addr() != nil {
		t.Error("server still listening after Stop")
	}
	s.Stop()
}

func TestRequestPayloads(t *testing.T) {
	pty := gossh.Marshal(ptyRequest{Term: "xterm", Columns: 120, Rows: 40})
	var gotPty ptyRequest
	if err := gossh.Unmarshal(pty, &gotPty); err != nil {
		t.Fatalf("pty-req: %v", err)
	}
	if gotPty.Term != "xterm" || gotPty.Columns != 120 || gotPty.Rows != 40 {
		t.Errorf("pty-req = %+v", gotPty)
	}

	var win windowChange
	if err := gossh.Unmarshal([]byte{0, 0, 0, 1}, &win); err == nil {
		t.Error("short window-change accepted")
	}
}

func TestChannelTtyResize(t *testing.T) {
	tty := newChannelTty(nil, "", 80, 24)
	if tty.term != "xterm-256color" {
		t.Errorf("default term = %q", tty.term)
	}

	called := 0
	tty.NotifyResize(func() { called++ })
	tty.resize(100, 30)

	size, _ := tty.WindowSize()
	if size.Width != 100 || size.Height != 30 || called != 1 {
		t.Errorf("size = %+v, callbacks = %d", size, called)
	}

	tty.Stop()
	if n, err := tty.Read(make([]byte, 4)); n != 0 || err == nil {
		t.Errorf("Read after Stop = %d, %v", n, err)
	}
}
