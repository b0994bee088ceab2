package crypto

import (
	crand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// A sealed payload is the URL safe base64 encoding of:
//
// salt:       16 random bytes fed to argon2id with the caller's key
// nonce:      24 random bytes (XChaCha20-Poly1305)
// ciphertext: the sealed plaintext including the Poly1305 tag

const (
	SaltSize         = 16
	MaxPlaintextSize = 10 * 1024 * 1024

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	ErrEmptyKey         = errors.New("encryption key is empty")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrPlaintextTooLong = errors.New("plaintext too long")
)

func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// Encrypt seals text with a key derived from key.
func Encrypt(key []byte, text string) (string, error) {
	if len(key) == 0 {
		return "", ErrEmptyKey
	}

	if len(text) > MaxPlaintextSize {
		return "", ErrPlaintextTooLong
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(crand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt | %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(key, salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = io.ReadFull(crand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce | %w", err)
	}

	out := make([]byte, 0, SaltSize+len(nonce)+len(text)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(text), nil)

	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(key []byte, cryptoText string) (pt string, err error) {
	if len(key) == 0 {
		return "", ErrEmptyKey
	}

	raw, err := base64.URLEncoding.DecodeString(cryptoText)
	if err != nil {
		return
	}

	if len(raw) < SaltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", ErrCiphertextShort
	}

	salt := raw[:SaltSize]
	nonce := raw[SaltSize : SaltSize+chacha20poly1305.NonceSizeX]
	sealed := raw[SaltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(key, salt))
	if err != nil {
		return
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt | %w", err)
	}

	return string(plain), nil
}
