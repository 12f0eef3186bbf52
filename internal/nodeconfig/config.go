// Package nodeconfig loads and saves the node's JSON configuration
// file: the allowed-peer list, the encrypted identity-key envelope,
// database and network settings. Grounded on internal/node/config.go's
// load-or-create-default idiom, switched from YAML to JSON because the
// config's wire schema is dictated by this system, not a stylistic
// choice — see DESIGN.md.
package nodeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/klingon-exchange/threshold-node/internal/keyfile"
)

// DefaultConfirmationDepth is used when a config omits confirmation_depth.
const DefaultConfirmationDepth = 6

// ConfigFileName is the default config file name within a database
// directory.
const ConfigFileName = "config.json"

// AllowedPeer names one counterparty this node will accept direct
// messages and DKG/signing participation from.
type AllowedPeer struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name"`
}

// EncryptionParams describes how EncryptedPrivateKeyB64 was sealed.
type EncryptionParams struct {
	KDF     string `json:"kdf"`
	SaltB64 []byte `json:"salt_b64"`
	IVB64   []byte `json:"iv_b64"`
}

// KeyData is the node's own identity key, at rest.
type KeyData struct {
	PublicKeyB58           string           `json:"public_key_b58"`
	EncryptedPrivateKeyB64 []byte           `json:"encrypted_private_key_b64"`
	EncryptionParams       EncryptionParams `json:"encryption_params"`
}

// Config is the literal on-disk schema this node reads at startup.
type Config struct {
	AllowedPeers      []AllowedPeer   `json:"allowed_peers"`
	KeyData           KeyData         `json:"key_data"`
	DKGKeys           json.RawMessage `json:"dkg_keys,omitempty"`
	DatabaseDirectory string          `json:"database_directory"`
	GRPCPort          int             `json:"grpc_port"`
	LibP2PUDPPort     int             `json:"libp2p_udp_port"`
	LibP2PTCPPort     int             `json:"libp2p_tcp_port"`
	ConfirmationDepth uint32          `json:"confirmation_depth"`
	MonitorStartBlock uint64          `json:"monitor_start_block"`
	LogFilePath       string          `json:"log_file_path,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults and no identity
// key installed yet.
func DefaultConfig() *Config {
	return &Config{
		DatabaseDirectory: "~/.threshold-node",
		GRPCPort:          8545,
		LibP2PUDPPort:     4001,
		LibP2PTCPPort:     4001,
		ConfirmationDepth: DefaultConfirmationDepth,
	}
}

// Load reads path, creating a default config there if it does not yet
// exist.
func Load(path string) (*Config, error) {
	expanded := expandPath(path)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(expanded); err != nil {
			return nil, fmt.Errorf("nodeconfig: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("nodeconfig: parse config file: %w", err)
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = DefaultConfirmationDepth
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON with 0600 permissions.
func (c *Config) Save(path string) error {
	expanded := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(expanded), 0700); err != nil {
		return fmt.Errorf("nodeconfig: create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("nodeconfig: marshal config: %w", err)
	}
	return os.WriteFile(expanded, data, 0600)
}

// ConfigPath returns the config file path within a database directory.
func ConfigPath(databaseDirectory string) string {
	return filepath.Join(expandPath(databaseDirectory), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// SetIdentityKey encrypts privKey under password and installs the
// result, along with pubKey's base58 encoding, into c.KeyData.
//
// The literal config schema records only the KDF name alongside the
// salt and IV, not the Argon2id cost parameters; this loader always
// uses keyfile's fixed parameters on both seal and open, the same
// decision original_source leaves implicit by hardcoding them.
func (c *Config) SetIdentityKey(privKey, pubKey []byte, password string) error {
	enc, err := keyfile.Encrypt(privKey, password)
	if err != nil {
		return fmt.Errorf("nodeconfig: encrypt identity key: %w", err)
	}
	c.KeyData = KeyData{
		PublicKeyB58:           base58.Encode(pubKey),
		EncryptedPrivateKeyB64: enc.Ciphertext,
		EncryptionParams: EncryptionParams{
			KDF:     "argon2id",
			SaltB64: enc.Salt,
			IVB64:   enc.Nonce,
		},
	}
	return nil
}

// IdentityKey decrypts and returns the node's identity private key.
func (c *Config) IdentityKey(password string) ([]byte, error) {
	if c.KeyData.EncryptionParams.KDF != "argon2id" {
		return nil, fmt.Errorf("nodeconfig: unsupported kdf %q", c.KeyData.EncryptionParams.KDF)
	}
	enc := &keyfile.EncryptedKeyFile{
		Ciphertext: c.KeyData.EncryptedPrivateKeyB64,
		Salt:       c.KeyData.EncryptionParams.SaltB64,
		Nonce:      c.KeyData.EncryptionParams.IVB64,
	}
	return keyfile.Decrypt(enc, password)
}

// IdentityPublicKey decodes the base58-encoded public key.
func (c *Config) IdentityPublicKey() ([]byte, error) {
	decoded := base58.Decode(c.KeyData.PublicKeyB58)
	if len(decoded) == 0 && c.KeyData.PublicKeyB58 != "" {
		return nil, fmt.Errorf("nodeconfig: invalid base58 public key")
	}
	return decoded, nil
}
