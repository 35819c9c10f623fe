package ssh

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gossh "golang.org/x/crypto/ssh"
)

type passwordFunc func(gossh.ConnMetadata, []byte) (*gossh.Permissions, error)
type publicKeyFunc func(gossh.ConnMetadata, gossh.PublicKey) (*gossh.Permissions, error)

var errDenied = fmt.Errorf("access denied")

// passwordCallback accepts any user presenting password. An empty password
// disables password authentication.
func passwordCallback(password string) passwordFunc {
	if password == "" {
		return nil
	}
	want := []byte(password)
	return func(meta gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
		if subtle.ConstantTimeCompare(pass, want) == 1 {
			return &gossh.Permissions{}, nil
		}
		return nil, errDenied
	}
}

// publicKeyCallback accepts the keys listed at path, a file in
// authorized_keys format or a directory of such files.
func publicKeyCallback(path string) (publicKeyFunc, error) {
	if path == "" {
		return nil, nil
	}
	keys, err := loadAuthorizedKeys(path)
	if err != nil {
		return nil, fmt.Errorf("load authorized keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no authorized keys in %s", path)
	}

	return func(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
		wire := key.Marshal()
		for _, k := range keys {
			if bytes.Equal(wire, k.Marshal()) {
				return &gossh.Permissions{
					Extensions: map[string]string{"pubkey-fp": gossh.FingerprintSHA256(key)},
				}, nil
			}
		}
		return nil, errDenied
	}, nil
}

func loadAuthorizedKeys(path string) ([]gossh.PublicKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return loadAuthorizedKeysFromFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var keys []gossh.PublicKey
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fileKeys, err := loadAuthorizedKeysFromFile(filepath.Join(path, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, fileKeys...)
	}
	return keys, nil
}

// loadAuthorizedKeysFromFile skips comments and lines that do not parse.
func loadAuthorizedKeysFromFile(path string) ([]gossh.PublicKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var keys []gossh.PublicKey
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, scanner.Err()
}

// DefaultHostKeyPath returns ~/.floorview/host_key.
func DefaultHostKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, ".floorview", "host_key"), nil
}

// hostKey loads the server key at path, generating an ED25519 key there on
// first use.
func hostKey(path string) (gossh.Signer, error) {
	if path == "" {
		p, err := DefaultHostKeyPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return loadHostKey(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return generateHostKey(path)
}

func loadHostKey(path string) (gossh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := gossh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	return signer, nil
}

func generateHostKey(path string) (gossh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "floorview")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	return gossh.NewSignerFromKey(priv)
}
