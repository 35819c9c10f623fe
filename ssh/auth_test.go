package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

func newPublicKey(t *testing.T) (gossh.PublicKey, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return key, string(gossh.MarshalAuthorizedKey(key))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPasswordCallback(t *testing.T) {
	if passwordCallback("") != nil {
		t.Fatal("empty password should disable password auth")
	}

	cb := passwordCallback("secret123")
	tests := []struct {
		pass string
		ok   bool
	}{
		{"secret123", true},
		{"wrong", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := cb(nil, []byte(tt.pass))
		if (err == nil) != tt.ok {
			t.Errorf("password %q: err = %v, want ok=%v", tt.pass, err, tt.ok)
		}
	}
}

func TestLoadAuthorizedKeys(t *testing.T) {
	dir := t.TempDir()
	_, key1 := newPublicKey(t)
	_, key2 := newPublicKey(t)

	writeFile(t, filepath.Join(dir, "file"), "# comment\ninvalid line\n"+key1+"\n")
	writeFile(t, filepath.Join(dir, "empty"), "")
	writeFile(t, filepath.Join(dir, "keys", "a.pub"), key1)
	writeFile(t, filepath.Join(dir, "keys", "b.pub"), key2)
	writeFile(t, filepath.Join(dir, "keys", ".hidden"), key2)
	writeFile(t, filepath.Join(dir, "keys", "nested", "c.pub"), key2)

	tests := []struct {
		name    string
		path    string
		want    int
		wantErr bool
	}{
		{"file skips comments and invalid lines", "file", 1, false},
		{"empty file", "empty", 0, false},
		{"directory skips hidden files and subdirectories", "keys", 2, false},
		{"missing path", "missing", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := loadAuthorizedKeys(filepath.Join(dir, tt.path))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(keys) != tt.want {
				t.Errorf("got %d keys, want %d", len(keys), tt.want)
			}
		})
	}
}

func TestPublicKeyCallback(t *testing.T) {
	dir := t.TempDir()
	key, line := newPublicKey(t)
	other, _ := newPublicKey(t)

	if cb, err := publicKeyCallback(""); cb != nil || err != nil {
		t.Errorf("empty path: cb=%v err=%v", cb != nil, err)
	}
	if _, err := publicKeyCallback(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing file should fail")
	}
	writeFile(t, filepath.Join(dir, "empty"), "")
	if _, err := publicKeyCallback(filepath.Join(dir, "empty")); err == nil {
		t.Error("file without keys should fail")
	}

	writeFile(t, filepath.Join(dir, "authorized_keys"), line)
	cb, err := publicKeyCallback(filepath.Join(dir, "authorized_keys"))
	if err != nil {
		t.Fatalf("publicKeyCallback: %v", err)
	}
	perms, err := cb(nil, key)
	if err != nil {
		t.Fatalf("authorized key rejected: %v", err)
	}
	if perms.Extensions["pubkey-fp"] != gossh.FingerprintSHA256(key) {
		t.Errorf("fingerprint = %q", perms.Extensions["pubkey-fp"])
	}
	if _, err := cb(nil, other); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "host_key")

	first, err := hostKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first.PublicKey().Type() != gossh.KeyAlgoED25519 {
		t.Errorf("key type = %s", first.PublicKey().Type())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("host key not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}

	second, err := hostKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(first.PublicKey().Marshal()) != string(second.PublicKey().Marshal()) {
		t.Error("reload produced a different key")
	}

	bad := filepath.Join(t.TempDir(), "bad")
	writeFile(t, bad, "not a key")
	if _, err := loadHostKey(bad); err == nil {
		t.Error("invalid key file accepted")
	}
}
