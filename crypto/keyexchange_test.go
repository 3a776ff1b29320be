package crypto

import (
	"bytes"
	"errors"
	"testing"

	ecies "github.com/ecies/go/v2"
)

func mustECIESKey(t *testing.T) *ecies.PrivateKey {
	t.Helper()
	key, err := ecies.GenerateKey()
	if err != nil {
		t.Fatalf("ecies.GenerateKey failed: %v", err)
	}
	return key
}

func TestKeyExchange_Roundtrip(t *testing.T) {
	owner := mustECIESKey(t)
	requester := mustECIESKey(t)
	fileID := FileID("thesis.pdf")
	symKey := mustKey(t)

	// The owner only sees the requester's public key on the wire.
	requesterPub, err := ParsePublicKey(requester.PublicKey.Bytes(true))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	wrapped, err := SealKey(owner, requesterPub, fileID, symKey)
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}

	ownerPub, err := ParsePublicKey(owner.PublicKey.Bytes(false))
	if err != nil {
		t.Fatalf("ParsePublicKey (uncompressed) failed: %v", err)
	}
	opened, err := OpenKey(requester, ownerPub, fileID, wrapped)
	if err != nil {
		t.Fatalf("OpenKey failed: %v", err)
	}
	if !bytes.Equal(opened, symKey) {
		t.Fatal("requester recovered a different key")
	}
}

func TestKeyExchange_ThirdPartyCannotOpen(t *testing.T) {
	owner := mustECIESKey(t)
	requester := mustECIESKey(t)
	eavesdropper := mustECIESKey(t)
	fileID := FileID("thesis.pdf")

	wrapped, err := SealKey(owner, requester.PublicKey, fileID, mustKey(t))
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}

	if _, err := OpenKey(eavesdropper, owner.PublicKey, fileID, wrapped); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for third party, got %v", err)
	}
}

func TestKeyExchange_BoundToFileID(t *testing.T) {
	owner := mustECIESKey(t)
	requester := mustECIESKey(t)

	wrapped, err := SealKey(owner, requester.PublicKey, FileID("a.txt"), mustKey(t))
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}
	if _, err := OpenKey(requester, owner.PublicKey, FileID("b.txt"), wrapped); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for another file id, got %v", err)
	}
}

func TestParsePublicKey_Rejects(t *testing.T) {
	for _, in := range [][]byte{
		nil,
		[]byte("not a key"),
		append([]byte{0x05}, bytes.Repeat([]byte{0x11}, 32)...),
		append([]byte{0x02}, bytes.Repeat([]byte{0xFF}, 32)...),
	} {
		if _, err := ParsePublicKey(in); !errors.Is(err, ErrInvalidPublicKey) {
			t.Errorf("ParsePublicKey(%x): expected ErrInvalidPublicKey, got %v", in, err)
		}
	}
}
