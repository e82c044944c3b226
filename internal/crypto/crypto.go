// Package crypto implements the relay's symmetric payload encryption and key
// serialization. Each accepted connection gets its own key; relayed payloads
// are decrypted with the sender's key and re-encrypted with the receiver's.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the symmetric key size in bytes.
const KeyLen = chacha20poly1305.KeySize

// Key is a per-connection symmetric key, immutable after the handshake.
type Key []byte

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSessionKey generates a fresh connection key.
func NewSessionKey() (Key, error) {
	b, err := RandBytes(KeyLen)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return Key(b), nil
}

// KeyToString serializes a key for in-band transmission.
func KeyToString(k Key) string {
	return base64.StdEncoding.EncodeToString(k)
}

// KeyFromString parses a key previously produced by KeyToString.
func KeyFromString(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}
	if len(b) != KeyLen {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", KeyLen, len(b))
	}
	return Key(b), nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 and a random nonce.
// Output layout: nonce || ciphertext+tag.
func Encrypt(plaintext []byte, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob []byte, key Key) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}

// EncryptText seals a string payload and base64-armors it for the Content field.
func EncryptText(plaintext string, key Key) (string, error) {
	ct, err := Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptText reverses EncryptText.
func DecryptText(armored string, key Key) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := Decrypt(ct, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
