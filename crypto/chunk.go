package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/kutluhann/decen-dht/constants"
)

var ErrAuthentication = errors.New("authentication failed")

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, constants.SymmetricKeyB)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncryptChunk seals plaintext with AES-256-GCM under a fresh nonce and
// returns nonce || ciphertext || tag, the layout chunks are stored and sent in.
func EncryptChunk(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, constants.NonceSize, constants.NonceSize+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(blob); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(blob, blob[:constants.NonceSize], plaintext, nil), nil
}

// DecryptChunk opens a blob produced by EncryptChunk. A wrong key or a
// tampered blob yields ErrAuthentication.
func DecryptChunk(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < constants.NonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: chunk too short (%d bytes)", ErrAuthentication, len(blob))
	}

	nonce, ciphertext := blob[:constants.NonceSize], blob[constants.NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != constants.SymmetricKeyB {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
