// Package cipher implements the ECDH transport cipher used for health
// information exchange: X25519 key agreement, HKDF-SHA256 key derivation,
// and AES-256-GCM payload encryption.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrCipher is returned when a payload fails authentication or cannot be
// decrypted with the derived key.
var ErrCipher = errors.New("cipher: payload decryption failed")

const (
	nonceSize = 32
	saltSize  = 20
	ivSize    = 12
	keySize   = 32
)

// KeyMaterial holds one party's half of the key agreement. All fields are
// standard-base64 encoded. Material is generated once per consent artefact
// and never regenerated; re-deriving keys for stored pages depends on it.
type KeyMaterial struct {
	PrivateKey string
	PublicKey  string
	Nonce      string
}

// Generate produces a fresh X25519 key pair and a random 32-byte nonce.
func Generate() (KeyMaterial, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("generating X25519 key: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return KeyMaterial{}, fmt.Errorf("generating nonce: %w", err)
	}

	return KeyMaterial{
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Bytes()),
		PublicKey:  base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Cipher is a derived symmetric cipher bound to one (local, remote) key pair.
// It is stateless per call and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	iv   []byte
}

// New derives the shared AES-256-GCM key from the local private key and
// nonce and the remote public key and nonce. The XOR of the two nonces is
// split into a 20-byte HKDF salt and a 12-byte GCM IV.
func New(localPrivateKey, localNonce, remotePublicKey, remoteNonce string) (*Cipher, error) {
	privBytes, err := base64.StdEncoding.DecodeString(localPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	pubBytes, err := base64.StdEncoding.DecodeString(remotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding remote public key: %w", err)
	}
	localN, err := base64.StdEncoding.DecodeString(localNonce)
	if err != nil {
		return nil, fmt.Errorf("decoding local nonce: %w", err)
	}
	remoteN, err := base64.StdEncoding.DecodeString(remoteNonce)
	if err != nil {
		return nil, fmt.Errorf("decoding remote nonce: %w", err)
	}
	if len(localN) != nonceSize || len(remoteN) != nonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes", nonceSize)
	}

	priv, err := ecdh.X25519().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing remote public key: %w", err)
	}

	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	xored := make([]byte, nonceSize)
	for i := range xored {
		xored[i] = remoteN[i] ^ localN[i]
	}
	salt := xored[:saltSize]
	iv := xored[nonceSize-ivSize:]

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, nil), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	return &Cipher{aead: aead, iv: iv}, nil
}

// Encrypt seals the plaintext and returns it standard-base64 encoded.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	sealed := c.aead.Seal(nil, c.iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64-encoded sealed payload. Authentication failure,
// including a key derived from the wrong material, yields ErrCipher.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	plaintext, err := c.aead.Open(nil, c.iv, sealed, nil)
	if err != nil {
		return nil, ErrCipher
	}
	return plaintext, nil
}
