package transport

import (
	"bytes"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestMessageEncryptorRoundTrip(t *testing.T) {
	senderPriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}
	recipientPriv, recipientPub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate recipient key: %v", err)
	}

	senderPeerID, err := peer.IDFromPrivateKey(senderPriv)
	if err != nil {
		t.Fatalf("sender peer id: %v", err)
	}
	recipientPeerID, err := peer.IDFromPublicKey(recipientPub)
	if err != nil {
		t.Fatalf("recipient peer id: %v", err)
	}

	senderEnc, err := newMessageEncryptor(senderPriv, senderPeerID)
	if err != nil {
		t.Fatalf("sender encryptor: %v", err)
	}
	recipientEnc, err := newMessageEncryptor(recipientPriv, recipientPeerID)
	if err != nil {
		t.Fatalf("recipient encryptor: %v", err)
	}

	plaintext := []byte(`{"kind":2,"round2":{"sender":"aa","recipient":"bb","data":"ZGF0YQ=="}}`)

	envelope, err := senderEnc.encrypt(recipientPeerID, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if envelope.RecipientPeerID != recipientPeerID.String() {
		t.Fatalf("envelope recipient mismatch: got %s want %s", envelope.RecipientPeerID, recipientPeerID.String())
	}
	if bytes.Equal(envelope.Ciphertext, plaintext) {
		t.Fatalf("ciphertext should not equal plaintext")
	}

	got, err := recipientEnc.decrypt(envelope)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted mismatch: got %q want %q", got, plaintext)
	}
}

func TestMessageEncryptorRejectsWrongRecipient(t *testing.T) {
	senderPriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}
	recipientPriv, recipientPub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate recipient key: %v", err)
	}
	bystanderPriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate bystander key: %v", err)
	}

	senderPeerID, _ := peer.IDFromPrivateKey(senderPriv)
	recipientPeerID, _ := peer.IDFromPublicKey(recipientPub)
	bystanderPeerID, _ := peer.IDFromPrivateKey(bystanderPriv)

	senderEnc, err := newMessageEncryptor(senderPriv, senderPeerID)
	if err != nil {
		t.Fatalf("sender encryptor: %v", err)
	}
	bystanderEnc, err := newMessageEncryptor(bystanderPriv, bystanderPeerID)
	if err != nil {
		t.Fatalf("bystander encryptor: %v", err)
	}

	envelope, err := senderEnc.encrypt(recipientPeerID, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := bystanderEnc.decrypt(envelope); err == nil {
		t.Fatalf("expected decryption to fail for a peer the envelope was not addressed to")
	}
}
