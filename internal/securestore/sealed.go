package securestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "miciudad/securestore/v1"

type sealed struct {
	next KV
	aead cipher.AEAD
}

// Sealed encrypts values with XChaCha20-Poly1305 before they reach next. The
// key is derived from secret with HKDF-SHA256; the storage key is bound as
// additional data so values cannot be swapped between keys.
func Sealed(next KV, secret []byte) (KV, error) {
	if len(secret) == 0 {
		return nil, errors.New("securestore: sealing secret required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("securestore: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("securestore: cipher: %w", err)
	}
	return &sealed{next: next, aead: aead}, nil
}

func (s *sealed) Get(ctx context.Context, key string) (string, error) {
	encoded, err := s.next.Get(ctx, key)
	if err != nil {
		return "", err
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if len(blob) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: %s: short value", ErrCorrupt, key)
	}
	nonce, ciphertext := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return string(plain), nil
}

func (s *sealed) Set(ctx context.Context, key, value string) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("securestore: nonce: %w", err)
	}
	blob := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.next.Set(ctx, key, base64.StdEncoding.EncodeToString(blob))
}

func (s *sealed) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}
