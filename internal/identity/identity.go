package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"voidnode/internal/cryptographic/dh"
	"voidnode/internal/cryptographic/encryption"
	"voidnode/internal/cryptographic/kdf"
	"voidnode/internal/cryptographic/signature"
	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

var (
	// ErrIdentityCorrupt means the key file exists but cannot be used. Fatal
	// at startup: regenerating silently would orphan this server's identity
	// in every peer's address book.
	ErrIdentityCorrupt = errors.New("identity: key material corrupt")

	// ErrDecryptionFailed covers authentication-tag mismatch and malformed
	// envelopes alike; callers never learn which.
	ErrDecryptionFailed = errors.New("identity: decryption failed")
)

const serverIDPrefix = "void-"

type (
	// Identity is this server's asymmetric keypair plus the identifier
	// derived from it. Immutable after load; the private key never leaves
	// this package in any serialized payload.
	Identity struct {
		ServerID  string
		PublicKey []byte
		CreatedAt time.Time

		privateKey []byte
	}

	// Envelope is an encrypted payload for one specific peer.
	Envelope struct {
		Nonce      []byte `json:"nonce"`
		Ciphertext []byte `json:"ciphertext"`
	}

	identityFile struct {
		ServerID   string    `json:"server_id"`
		PublicKey  []byte    `json:"public_key"`
		PrivateKey []byte    `json:"private_key"`
		CreatedAt  time.Time `json:"created_at"`
	}
)

// DeriveServerID maps a public signing key to the short server identifier.
func DeriveServerID(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return serverIDPrefix + hex.EncodeToString(sum[:])[:8]
}

// LoadOrCreate loads the identity file at path, or generates and persists a
// new keypair if the file does not exist yet. Idempotent across restarts.
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return load(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}

	pub, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	id := &Identity{
		ServerID:   DeriveServerID(pub),
		PublicKey:  pub,
		CreatedAt:  time.Now().UTC(),
		privateKey: priv,
	}

	if err := id.persist(path); err != nil {
		return nil, err
	}
	log.Info("generated new server identity", zap.String("server_id", id.ServerID))
	return id, nil
}

func load(data []byte) (*Identity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if len(f.PublicKey) != ed25519.PublicKeySize || len(f.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad key length", ErrIdentityCorrupt)
	}
	if f.ServerID != DeriveServerID(f.PublicKey) {
		return nil, fmt.Errorf("%w: server id does not match public key", ErrIdentityCorrupt)
	}
	return &Identity{
		ServerID:   f.ServerID,
		PublicKey:  f.PublicKey,
		CreatedAt:  f.CreatedAt,
		privateKey: f.PrivateKey,
	}, nil
}

func (id *Identity) persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.Marshal(identityFile{
		ServerID:   id.ServerID,
		PublicKey:  id.PublicKey,
		PrivateKey: id.privateKey,
		CreatedAt:  id.CreatedAt,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

// Sign signs the canonical serialization of payload.
func (id *Identity) Sign(payload any) ([]byte, error) {
	data, err := signature.Canonical(payload)
	if err != nil {
		return nil, err
	}
	return signature.ED25519Sign(id.privateKey, data), nil
}

// SignBytes signs raw bytes, e.g. a ciphertext.
func (id *Identity) SignBytes(data []byte) []byte {
	return signature.ED25519Sign(id.privateKey, data)
}

// Verify checks sig over the canonical serialization of payload against pub.
func Verify(payload any, sig, pub []byte) bool {
	data, err := signature.Canonical(payload)
	if err != nil {
		return false
	}
	return signature.ED25519Verify(pub, data, sig)
}

// VerifyBytes checks sig over raw bytes against pub.
func VerifyBytes(data, sig, pub []byte) bool {
	return signature.ED25519Verify(pub, data, sig)
}

// SharedSecret derives the symmetric key for a peer by converting both
// signing keys into X25519 form, running ECDH, and stretching the result
// through HKDF. Both sides arrive at the same key.
func (id *Identity) SharedSecret(peerPub []byte) ([]byte, error) {
	priv, err := dh.Ed25519PrivToX25519(id.privateKey)
	if err != nil {
		return nil, err
	}
	pub, err := dh.Ed25519PubToX25519(peerPub)
	if err != nil {
		return nil, err
	}
	secret, err := dh.X25519SharedSecret(priv, pub)
	if err != nil {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := kdf.HKDF(secret, nil, []byte("voidnode-secure-channel"), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals payload for the peer holding peerPub. A fresh nonce is drawn
// per call; nonce reuse would break confidentiality.
func (id *Identity) Encrypt(payload []byte, peerPub []byte) (*Envelope, error) {
	key, err := id.SharedSecret(peerPub)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext, err := encryption.AEADEncrypt(key, payload, nil)
	if err != nil {
		return nil, err
	}
	return &Envelope{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Decrypt opens an envelope from the peer holding peerPub.
func (id *Identity) Decrypt(env *Envelope, peerPub []byte) ([]byte, error) {
	key, err := id.SharedSecret(peerPub)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plain, err := encryption.AEADDecrypt(key, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
