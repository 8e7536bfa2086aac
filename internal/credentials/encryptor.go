// Package credentials stores per-customer provider credentials encrypted
// at rest and hands decrypted payloads to the scheduler only. Verification
// round-trips a probe against the provider before is_verified flips.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	pbkdf2Iter = 10000
)

// Encryptor seals and opens credential payloads with AES-256-GCM. The
// per-payload key is derived from the process master key and a random
// salt stored alongside the ciphertext.
type Encryptor struct {
	masterKey []byte
}

// NewEncryptor validates and keeps the master key.
func NewEncryptor(masterKey string) (*Encryptor, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("credential master key must be at least 16 bytes")
	}
	return &Encryptor{masterKey: []byte(masterKey)}, nil
}

// Encrypt seals plaintext and returns base64(salt || nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	blob := append(append(salt, nonce...), sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a payload produced by Encrypt.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(blob) < saltSize {
		return nil, fmt.Errorf("payload too short")
	}

	salt := blob[:saltSize]
	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}
	rest := blob[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("payload too short")
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plaintext, nil
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.masterKey, salt, pbkdf2Iter, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
