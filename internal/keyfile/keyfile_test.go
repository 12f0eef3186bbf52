package keyfile

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	share := []byte("this-would-be-a-frost-key-share")
	enc, err := Encrypt(share, "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt(enc, "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, share) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	enc, err := Encrypt([]byte("share-bytes"), "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(enc, "Wrong-Horse-9!"); err == nil {
		t.Fatalf("expected decryption failure with wrong password")
	}
}

func TestValidatePasswordRejectsWeak(t *testing.T) {
	if err := ValidatePassword("short"); err == nil {
		t.Fatalf("expected rejection of short password")
	}
	if err := ValidatePassword("alllowercase"); err == nil {
		t.Fatalf("expected rejection of low-complexity password")
	}
	if err := ValidatePassword("Correct-Horse-9!"); err != nil {
		t.Fatalf("expected acceptance of strong password: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.keyfile")

	enc, err := Encrypt([]byte("share-bytes"), "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := Save(enc, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := Decrypt(loaded, "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("decrypt loaded: %v", err)
	}
	if string(got) != "share-bytes" {
		t.Fatalf("unexpected plaintext %q", got)
	}
}
