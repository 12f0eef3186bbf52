// Package transport - direct-message confidentiality via NaCl box,
// generalized from internal/node/crypto.go's MessageEncryptor: instead
// of sealing a *SwapMessage, it seals the arbitrary plaintext bytes a
// directPayload marshals to.
package transport

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/nacl/box"
)

// encryptedEnvelope wraps a direct message's ciphertext for delivery
// over a DirectProtocol stream.
type encryptedEnvelope struct {
	RecipientPeerID string `json:"recipient"`
	SenderPeerID    string `json:"sender"`
	EphemeralPubKey []byte `json:"ephemeral_key"`
	Nonce           []byte `json:"nonce"`
	Ciphertext      []byte `json:"ciphertext"`
}

// messageEncryptor seals and opens direct-message plaintext between
// this node and a peer, keyed off each side's libp2p Ed25519 identity
// converted to X25519.
type messageEncryptor struct {
	localPrivKey    crypto.PrivKey
	localX25519Priv [32]byte
	localPeerID     peer.ID
}

func newMessageEncryptor(privKey crypto.PrivKey, peerID peer.ID) (*messageEncryptor, error) {
	x25519Priv, err := ed25519PrivToX25519(privKey)
	if err != nil {
		return nil, fmt.Errorf("transport: derive x25519 identity key: %w", err)
	}
	return &messageEncryptor{localPrivKey: privKey, localX25519Priv: x25519Priv, localPeerID: peerID}, nil
}

func (e *messageEncryptor) encrypt(recipient peer.ID, plaintext []byte) (*encryptedEnvelope, error) {
	recipientX25519Pub, err := peerIDToX25519Pub(recipient)
	if err != nil {
		return nil, fmt.Errorf("transport: recipient public key: %w", err)
	}

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generate ephemeral key: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("transport: generate nonce: %w", err)
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, &recipientX25519Pub, ephemeralPriv)
	return &encryptedEnvelope{
		RecipientPeerID: recipient.String(),
		SenderPeerID:    e.localPeerID.String(),
		EphemeralPubKey: ephemeralPub[:],
		Nonce:           nonce[:],
		Ciphertext:      ciphertext,
	}, nil
}

func (e *messageEncryptor) decrypt(envelope *encryptedEnvelope) ([]byte, error) {
	if envelope.RecipientPeerID != e.localPeerID.String() {
		return nil, fmt.Errorf("transport: message not addressed to this node")
	}
	if len(envelope.EphemeralPubKey) != 32 {
		return nil, fmt.Errorf("transport: invalid ephemeral public key length")
	}
	if len(envelope.Nonce) != 24 {
		return nil, fmt.Errorf("transport: invalid nonce length")
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], envelope.EphemeralPubKey)
	var nonce [24]byte
	copy(nonce[:], envelope.Nonce)

	plaintext, ok := box.Open(nil, envelope.Ciphertext, &nonce, &ephemeralPub, &e.localX25519Priv)
	if !ok {
		return nil, fmt.Errorf("transport: decryption failed")
	}
	return plaintext, nil
}

// ed25519PrivToX25519 converts an Ed25519 private key to X25519 format
// by hashing its seed with SHA-512 and clamping, the standard
// birational conversion.
func ed25519PrivToX25519(privKey crypto.PrivKey) ([32]byte, error) {
	var x25519Priv [32]byte
	raw, err := privKey.Raw()
	if err != nil {
		return x25519Priv, fmt.Errorf("raw private key bytes: %w", err)
	}
	if len(raw) < 32 {
		return x25519Priv, fmt.Errorf("invalid private key length: %d", len(raw))
	}
	h := sha512.Sum512(raw[:32])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(x25519Priv[:], h[:32])
	return x25519Priv, nil
}

// peerIDToX25519Pub extracts a peer's Ed25519 public key from its
// libp2p peer ID and converts it to the Montgomery form X25519 uses.
func peerIDToX25519Pub(peerID peer.ID) ([32]byte, error) {
	var x25519Pub [32]byte
	pubKey, err := peerID.ExtractPublicKey()
	if err != nil {
		return x25519Pub, fmt.Errorf("extract public key: %w", err)
	}
	raw, err := pubKey.Raw()
	if err != nil {
		return x25519Pub, fmt.Errorf("raw public key bytes: %w", err)
	}
	if len(raw) != 32 {
		return x25519Pub, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	edPoint, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return x25519Pub, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	copy(x25519Pub[:], edPoint.BytesMontgomery())
	return x25519Pub, nil
}
