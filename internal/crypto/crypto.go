package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// ErrNoKey is returned when encrypting or decrypting with a nil Cipher.
var ErrNoKey = errors.New("no token key configured")

// passphraseSalt is fixed so the same passphrase always yields the same key
// across runs and machines.
var passphraseSalt = []byte("deskroster/token-key/v1")

// Cipher handles AES-256-GCM encryption/decryption of tenant API tokens.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from key. A 64-character hex string is used as
// the raw 32-byte key; anything else is treated as a passphrase and
// stretched with scrypt. Returns nil if key is empty (encryption disabled).
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, nil
	}

	raw, err := deriveKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

func deriveKey(key string) ([]byte, error) {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	raw, err := scrypt.Key([]byte(key), passphraseSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}
	return raw, nil
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext with prepended nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil {
		return "", ErrNoKey
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext (with prepended nonce) and returns plaintext.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if c == nil {
		return "", ErrNoKey
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plaintext), nil
}
