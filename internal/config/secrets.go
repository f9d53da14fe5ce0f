package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// The secrets file is AES-256-GCM sealed with a key derived from stable
// machine identity, so a copied file is useless on another host. This is
// tamper/theft mitigation for credentials at rest, not a KMS.

const machineIDFile = "/etc/machine-id"

// machineKey derives the 32-byte sealing key from hostname plus the OS
// machine id. Both are stable across restarts of the same host.
func machineKey() [32]byte {
	host, err := os.Hostname()
	if err != nil {
		host = "betflow-host"
	}
	id, err := os.ReadFile(machineIDFile)
	if err != nil {
		id = []byte("betflow-fallback-id")
	}
	return sha256.Sum256(append([]byte(host+"|"), id...))
}

// LoadSecrets decrypts and parses the secrets file.
func LoadSecrets(path string) (*Secrets, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key := machineKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("secrets file truncated")
	}
	nonce, sealed := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets (wrong machine?): %w", err)
	}

	var s Secrets
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return &s, nil
}

// SaveSecrets seals the secrets to disk. Used by the betflow-seal setup
// tool only; the running agent never rewrites credentials.
func SaveSecrets(path string, s *Secrets) error {
	plain, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	key := machineKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
