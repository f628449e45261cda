package dh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// Generate a new X25519 key pair
func NewX25519KeyPair() (priv, pub [32]byte, err error) {
	_, err = rand.Read(priv[:])
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// Ed25519PrivToX25519 converts an ed25519 signing key into an X25519 scalar:
// the first half of SHA-512(seed), clamped per RFC 7748.
func Ed25519PrivToX25519(privKey []byte) ([32]byte, error) {
	var out [32]byte
	if len(privKey) != ed25519.PrivateKeySize {
		return out, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKey))
	}
	h := sha512.Sum512(privKey[:ed25519.SeedSize])
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out, nil
}

// Ed25519PubToX25519 maps an ed25519 public key (edwards point) onto the
// birationally equivalent curve25519 point.
func Ed25519PubToX25519(pubKey []byte) ([32]byte, error) {
	var out [32]byte
	if len(pubKey) != ed25519.PublicKeySize {
		return out, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKey))
	}
	p, err := new(edwards25519.Point).SetBytes(pubKey)
	if err != nil {
		return out, fmt.Errorf("invalid edwards point: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}
