package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
)

func NewEd25519Keypair() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	privKey := ed25519.PrivateKey(privKeyBytes)
	return ed25519.Sign(privKey, message)
}

func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	pubKey := ed25519.PublicKey(pubKeyBytes)
	return ed25519.Verify(pubKey, message, signature)
}

// Canonical serializes a payload for signing. encoding/json sorts map keys and
// walks struct fields in declaration order, so both sides produce the same
// bytes for the same value.
func Canonical(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
