package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ecies "github.com/ecies/go/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/kutluhann/decen-dht/constants"
)

var ErrInvalidPublicKey = errors.New("invalid public key")

const keyWrapInfo = "decen-dht key-wrap:"

// ParsePublicKey validates a serialized secp256k1 public key (compressed or
// uncompressed) and returns it as an ecies key.
func ParsePublicKey(b []byte) (*ecies.PublicKey, error) {
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err := ecies.NewPublicKeyFromBytes(pk.SerializeCompressed())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// SealKey wraps symKey for the holder of peer. Both sides derive the same
// wrap key from ECDH(own private, peer public) bound to fileID, so only that
// peer can open the result. Layout: nonce || ciphertext || tag.
func SealKey(own *ecies.PrivateKey, peer *ecies.PublicKey, fileID string, symKey []byte) ([]byte, error) {
	aead, err := wrapAEAD(own, peer, fileID)
	if err != nil {
		return nil, err
	}

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(symKey)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[:aead.NonceSize()], symKey, []byte(fileID)), nil
}

// OpenKey reverses SealKey on the receiving side.
func OpenKey(own *ecies.PrivateKey, peer *ecies.PublicKey, fileID string, wrapped []byte) ([]byte, error) {
	aead, err := wrapAEAD(own, peer, fileID)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrAuthentication)
	}

	nonce, ciphertext := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
	symKey, err := aead.Open(nil, nonce, ciphertext, []byte(fileID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return symKey, nil
}

func wrapAEAD(own *ecies.PrivateKey, peer *ecies.PublicKey, fileID string) (cipher.AEAD, error) {
	shared, err := own.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	key, err := deriveWrapKey(shared, fileID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("new chacha20poly1305: %w", err)
	}
	return aead, nil
}

func deriveWrapKey(shared []byte, fileID string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, shared, []byte(constants.Salt), []byte(keyWrapInfo+fileID))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	return key, nil
}
