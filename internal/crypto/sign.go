package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
)

// GenerateSigningKey returns a new Ed25519 key pair for message authenticity.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs msg with priv and returns the signature.
func Sign(msg []byte, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, msg)
}

// PublicKeyToString armors a public key for the SignerPublicKey field.
func PublicKeyToString(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// Verify checks sig over msg against a base64-armored public key. Any decode
// failure counts as a failed verification, not an error.
func Verify(msg, sig []byte, pubB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
