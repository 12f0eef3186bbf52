package nodeconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfirmationDepth != DefaultConfirmationDepth {
		t.Fatalf("expected default confirmation depth %d, got %d", DefaultConfirmationDepth, cfg.ConfirmationDepth)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DatabaseDirectory != cfg.DatabaseDirectory {
		t.Fatalf("reloaded config does not match saved default")
	}
}

func TestSetAndDecryptIdentityKey(t *testing.T) {
	cfg := DefaultConfig()
	priv := []byte("this-is-a-32-byte-test-seed-val")
	pub := []byte("fake-public-key-bytes")

	if err := cfg.SetIdentityKey(priv, pub, "Sup3r$ecretPW"); err != nil {
		t.Fatalf("set identity key: %v", err)
	}
	if cfg.KeyData.PublicKeyB58 == "" {
		t.Fatalf("expected non-empty base58 public key")
	}

	got, err := cfg.IdentityKey("Sup3r$ecretPW")
	if err != nil {
		t.Fatalf("decrypt identity key: %v", err)
	}
	if string(got) != string(priv) {
		t.Fatalf("decrypted key mismatch: got %q want %q", got, priv)
	}

	if _, err := cfg.IdentityKey("wrong password"); err == nil {
		t.Fatalf("expected decryption failure with wrong password")
	}
}

func TestConfigRoundTripsThroughJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := DefaultConfig()
	cfg.AllowedPeers = []AllowedPeer{{PublicKey: "abc123", Name: "peer-a"}}
	if err := cfg.SetIdentityKey([]byte("seed"), []byte("pub"), "Sup3r$ecretPW"); err != nil {
		t.Fatalf("set identity key: %v", err)
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.AllowedPeers) != 1 || loaded.AllowedPeers[0].Name != "peer-a" {
		t.Fatalf("allowed peers did not round-trip: %+v", loaded.AllowedPeers)
	}
	if _, err := loaded.IdentityKey("Sup3r$ecretPW"); err != nil {
		t.Fatalf("decrypt round-tripped key: %v", err)
	}
}
