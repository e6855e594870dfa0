// Package credentials opens encrypted per-source access credentials.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Decryptor decrypts credential blobs sealed with AES-256-GCM. The
// blob format is base64(nonce || ciphertext) over a JSON payload.
type Decryptor struct {
	aead cipher.AEAD
}

// NewDecryptor builds a Decryptor from a 32-byte key.
func NewDecryptor(key []byte) (*Decryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Decryptor{aead: aead}, nil
}

// Decrypt opens a sealed credential blob.
func (d *Decryptor) Decrypt(blob string) (monitor.Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return monitor.Credentials{}, fmt.Errorf("decode credential blob: %w", err)
	}
	nonceSize := d.aead.NonceSize()
	if len(raw) < nonceSize {
		return monitor.Credentials{}, fmt.Errorf("credential blob too short: %d bytes", len(raw))
	}
	plaintext, err := d.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return monitor.Credentials{}, fmt.Errorf("open credential blob: %w", err)
	}
	var creds monitor.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return monitor.Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Encrypt seals credentials into a blob Decrypt can open. Used by the
// source-registration path and by tests.
func (d *Decryptor) Encrypt(creds monitor.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	nonce := make([]byte, d.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := d.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}
