package id_tools

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ecies "github.com/ecies/go/v2"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/constants"
)

// typedef peerID as SHA256 type, it is not a string
type PeerID [constants.KeySizeBytes]byte

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// GenerateNewPID creates a fresh secp256k1 key pair and the peer ID derived
// from its public key.
func GenerateNewPID() (*ecies.PrivateKey, PeerID, error) {
	privateKey, err := ecies.GenerateKey()
	if err != nil {
		return nil, PeerID{}, fmt.Errorf("generate key: %w", err)
	}
	return privateKey, GeneratePeerIDFromPublicKey(privateKey.PublicKey), nil
}

// SavePrivateKey writes the raw private scalar to path, owner readable only.
func SavePrivateKey(path string, key *ecies.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, PrivateKeyBytes(key), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// PrivateKeyBytes returns the private scalar left-padded to 32 bytes.
func PrivateKeyBytes(key *ecies.PrivateKey) []byte {
	return key.D.FillBytes(make([]byte, constants.KeySizeBytes))
}

// LoadPrivateKey reads a key written by SavePrivateKey.
func LoadPrivateKey(path string) (*ecies.PrivateKey, PeerID, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, PeerID{}, fmt.Errorf("read private key: %w", err)
	}
	if len(keyBytes) != constants.KeySizeBytes {
		return nil, PeerID{}, fmt.Errorf("private key file %s: expected %d bytes, got %d",
			path, constants.KeySizeBytes, len(keyBytes))
	}

	privateKey := ecies.NewPrivateKeyFromBytes(keyBytes)
	return privateKey, GeneratePeerIDFromPublicKey(privateKey.PublicKey), nil
}

// LoadOrCreate loads the key at path, generating and saving a new one when
// the file does not exist yet.
func LoadOrCreate(path string) (*ecies.PrivateKey, PeerID, error) {
	if _, err := os.Stat(path); err == nil {
		logrus.Infof("Loading existing private key from %s", path)
		return LoadPrivateKey(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, PeerID{}, fmt.Errorf("stat private key: %w", err)
	}

	logrus.Info("Generating new identity...")
	privateKey, peerID, err := GenerateNewPID()
	if err != nil {
		return nil, PeerID{}, err
	}
	if err := SavePrivateKey(path, privateKey); err != nil {
		return nil, PeerID{}, err
	}
	return privateKey, peerID, nil
}

// GeneratePeerIDFromPublicKey hashes the compressed public key together with
// the system salt.
func GeneratePeerIDFromPublicKey(pubKey *ecies.PublicKey) PeerID {
	return GeneratePeerIDFromPublicKeyBytes(pubKey.Bytes(true))
}

// GeneratePeerIDFromPublicKeyBytes is GeneratePeerIDFromPublicKey for a key
// that is already serialized in compressed form.
func GeneratePeerIDFromPublicKeyBytes(compressed []byte) PeerID {
	dataToHash := make([]byte, 0, len(compressed)+len(constants.Salt))
	dataToHash = append(dataToHash, compressed...)
	dataToHash = append(dataToHash, []byte(constants.Salt)...)
	return sha256.Sum256(dataToHash)
}

// It is to check whether the other peer's public key matches its peer ID
func CheckPublicKeyMatchesPeerID(compressed []byte, pid PeerID) bool {
	return GeneratePeerIDFromPublicKeyBytes(compressed) == pid
}
