package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// maxMessageSize bounds a single direct-message stream frame, the same
// ceiling stream_handler.go enforces on the swap protocol.
const maxMessageSize = 1024 * 1024

// readLengthPrefixed reads one 4-byte-big-endian-length-prefixed frame.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("transport: read frame length: %w", err)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("transport: frame too large: %d > %d", length, maxMessageSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return data, nil
}

// writeLengthPrefixed writes one 4-byte-big-endian-length-prefixed frame.
func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("transport: frame too large: %d > %d", len(data), maxMessageSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// SendDirect implements noded.Transport. It opens a fresh stream per
// call rather than the teacher's ack-and-retry handshake: spec.md's
// direct messages carry no acknowledgment, so delivery here is
// fire-and-forget; a failed send is not retried here or by the signing
// and DKG handlers.
func (t *Transport) SendDirect(ctx context.Context, to types.Identifier, msg noded.DirectMessage) error {
	peerInfo, ok := t.peerFor(to)
	if !ok {
		return fmt.Errorf("transport: no known peer for identifier %x", to[:8])
	}

	payload, err := encodeDirectPayload(msg)
	if err != nil {
		return fmt.Errorf("transport: encode direct payload: %w", err)
	}
	envelope, err := t.encryptor.encrypt(peerInfo.PeerID, payload)
	if err != nil {
		return fmt.Errorf("transport: encrypt direct payload: %w", err)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	stream, err := t.host.NewStream(ctx, peerInfo.PeerID, protocol.ID(DirectProtocol))
	if err != nil {
		return fmt.Errorf("transport: open stream to %s: %w", peerInfo.PeerID, err)
	}
	defer stream.Close()

	stream.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := writeLengthPrefixed(stream, data); err != nil {
		return err
	}
	return nil
}

// handleIncomingStream is the libp2p stream handler registered for
// DirectProtocol: it reads one frame, decrypts it, and enqueues the
// matching noded event.
func (t *Transport) handleIncomingStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()
	s.SetReadDeadline(time.Now().Add(60 * time.Second))

	data, err := readLengthPrefixed(bufio.NewReader(s))
	if err != nil {
		t.log.Warn("read direct stream", "peer", remote.String(), "error", err)
		return
	}

	var envelope encryptedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.log.Warn("parse direct envelope", "peer", remote.String(), "error", err)
		return
	}
	plaintext, err := t.encryptor.decrypt(&envelope)
	if err != nil {
		t.log.Warn("decrypt direct envelope", "peer", remote.String(), "error", err)
		return
	}
	msg, err := decodeDirectPayload(plaintext)
	if err != nil {
		t.log.Warn("decode direct payload", "peer", remote.String(), "error", err)
		return
	}

	sender, ok := t.identifierForPeer(remote)
	if !ok {
		t.log.Warn("direct message from unknown peer", "peer", remote.String())
		return
	}

	if err := t.dispatchDirect(sender, msg); err != nil {
		t.log.Warn("dispatch direct message", "peer", remote.String(), "kind", msg.Kind, "error", err)
	}
}

// identifierForPeer is the reverse of peerFor: it finds the
// Identifier a configured peer's libp2p identity maps to.
func (t *Transport) identifierForPeer(id peer.ID) (types.Identifier, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for identifier, p := range t.peers {
		if p.PeerID == id {
			return identifier, true
		}
	}
	return types.Identifier{}, false
}

// dispatchDirect translates a decoded DirectMessage into the noded
// event its Kind corresponds to and enqueues it.
func (t *Transport) dispatchDirect(sender types.Identifier, msg noded.DirectMessage) error {
	switch msg.Kind {
	case noded.DirectPing, noded.DirectPong:
		return nil
	case noded.DirectRound2Package:
		return t.node.Enqueue(noded.EvDKGRound2{Sender: sender, Package: msg.Round2})
	case noded.DirectSignRequest:
		return t.node.Enqueue(noded.EvSignRequestReceived{
			Coordinator: sender,
			SignID:      msg.SignRequest.SignID,
			Message:     msg.SignRequest.Message,
		})
	case noded.DirectSignPackage:
		return t.node.Enqueue(noded.EvSignPackageReceived{
			SignID:      msg.SignPackage.SignID,
			Commitments: msg.SignPackage.Commitments,
		})
	case noded.DirectCommitment:
		return t.node.Enqueue(noded.EvCommitmentReceived{
			SignID:     msg.SignID,
			Commitment: msg.Commitment,
		})
	case noded.DirectSignatureShare:
		return t.node.Enqueue(noded.EvSignatureShareReceived{
			SignID: msg.SignID,
			Share:  msg.Share,
		})
	default:
		return fmt.Errorf("unknown direct message kind %d", msg.Kind)
	}
}
