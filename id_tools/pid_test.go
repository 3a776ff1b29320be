package id_tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateNewPIDVerifies(t *testing.T) {
	privateKey, peerID, err := GenerateNewPID()
	if err != nil {
		t.Fatalf("GenerateNewPID: %v", err)
	}
	if !VerifyIdentity(privateKey, peerID) {
		t.Fatal("fresh identity should verify")
	}

	other, _, err := GenerateNewPID()
	if err != nil {
		t.Fatalf("GenerateNewPID: %v", err)
	}
	if VerifyIdentity(other, peerID) {
		t.Fatal("identity of another key must not verify")
	}
}

func TestSaveAndLoadPrivateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "private_key.pem")

	created, createdID, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}

	loaded, loadedID, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (load): %v", err)
	}

	if createdID != loadedID {
		t.Errorf("peer id changed across reload: %s != %s", createdID, loadedID)
	}
	if !created.Equals(loaded) {
		t.Error("loaded private key differs from the saved one")
	}
}

func TestLoadPrivateKeyRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadPrivateKey(path); err == nil {
		t.Fatal("expected error for truncated key file")
	}
}

func TestSignAndVerify(t *testing.T) {
	privateKey, _, err := GenerateNewPID()
	if err != nil {
		t.Fatal(err)
	}
	message := []byte("key response payload")

	signature, err := SignMessage(privateKey, message)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	publicKey := privateKey.PublicKey.Bytes(true)
	if !VerifySignature(publicKey, message, signature) {
		t.Fatal("signature should verify")
	}
	if VerifySignature(publicKey, []byte("tampered"), signature) {
		t.Fatal("signature must not verify for another message")
	}

	other, _, _ := GenerateNewPID()
	if VerifySignature(other.PublicKey.Bytes(true), message, signature) {
		t.Fatal("signature must not verify for another key")
	}
}

func TestPeerIDMatchesPublicKey(t *testing.T) {
	privateKey, peerID, err := GenerateNewPID()
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPublicKeyMatchesPeerID(privateKey.PublicKey.Bytes(true), peerID) {
		t.Fatal("peer id should match its own public key")
	}
	if len(peerID.String()) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(peerID.String()))
	}
}
