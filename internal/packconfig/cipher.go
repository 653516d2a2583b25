package packconfig

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32
	kdfRounds  = 100000
	kdfSaltStr = "actionrunner-datastore"
)

// Cipher encrypts datastore secrets with AES-256-GCM. It implements
// SecretResolver.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex creates a Cipher from a hex-encoded key.
func NewCipherFromHex(s string) (*Cipher, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding crypto key: %w", err)
	}
	return NewCipher(key)
}

// NewCipherFromPassphrase derives the key from passphrase with PBKDF2.
func NewCipherFromPassphrase(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(kdfSaltStr), kdfRounds, keySize, sha256.New)
	return NewCipher(key)
}

// Encrypt returns the base64 nonce+ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// ResolveSecret implements SecretResolver.
func (c *Cipher) ResolveSecret(_ context.Context, ref string) (string, error) {
	return c.Decrypt(ref)
}
