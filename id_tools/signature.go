package id_tools

import (
	"bytes"
	"crypto/rand"
	"fmt"

	ecies "github.com/ecies/go/v2"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

func GenerateSecureRandomMessage() string {
	return rand.Text()
}

// SignMessage produces a 65-byte recoverable secp256k1 signature over the
// Keccak-256 digest of message.
func SignMessage(privateKey *ecies.PrivateKey, message []byte) ([]byte, error) {
	key, err := gethcrypto.ToECDSA(PrivateKeyBytes(privateKey))
	if err != nil {
		return nil, fmt.Errorf("convert private key: %w", err)
	}
	signature, err := gethcrypto.Sign(gethcrypto.Keccak256(message), key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signature, nil
}

// RecoverSigner returns the compressed public key that produced signature.
func RecoverSigner(message, signature []byte) ([]byte, error) {
	pub, err := gethcrypto.SigToPub(gethcrypto.Keccak256(message), signature)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	return gethcrypto.CompressPubkey(pub), nil
}

// VerifySignature checks that signature over message was made by the holder
// of the given compressed public key.
func VerifySignature(publicKey, message, signature []byte) bool {
	signer, err := RecoverSigner(message, signature)
	if err != nil {
		return false
	}
	return bytes.Equal(signer, publicKey)
}

// VerifyIdentity checks that the key pair derives peerID and can produce a
// signature that verifies against its own public key.
func VerifyIdentity(privateKey *ecies.PrivateKey, peerID PeerID) bool {
	publicKey := privateKey.PublicKey.Bytes(true)
	if !CheckPublicKeyMatchesPeerID(publicKey, peerID) {
		logrus.Error("Public Key does not match Peer ID")
		return false
	}

	message := []byte(GenerateSecureRandomMessage())
	signature, err := SignMessage(privateKey, message)
	if err != nil {
		logrus.Errorf("Cryptographic signature failed: %v", err)
		return false
	}

	if !VerifySignature(publicKey, message, signature) {
		logrus.Error("Cryptographic signature verification failed")
		return false
	}

	return true
}
