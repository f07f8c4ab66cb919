package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to their purpose. Changing this invalidates
// every previously sealed blob.
const keyInfo = "secretbroker/token-cache/v1"

// Sealer provides authenticated encryption for small blobs the broker
// persists to disk, such as the cached store token. The AES-256 key is
// derived from arbitrary-length master key material via HKDF-SHA256, so the
// master key file can hold anything from a random 32-byte key to a
// passphrase.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a sealing key from the given master key material.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("cryptox: empty master key material")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// NewSealerFromFile reads master key material from path and derives a Sealer.
func NewSealerFromFile(path string) (*Sealer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to read master key file: %w", err)
	}
	return NewSealer(data)
}

// Seal encrypts and authenticates plain.
// The output format is: [12-byte nonce][ciphertext][16-byte auth tag].
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a blob produced by Seal, failing if it was tampered with or
// sealed under a different master key.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, fmt.Errorf("cryptox: sealed data too short")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to open sealed data: %w", err)
	}

	return plain, nil
}
