package noded

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/dkg"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/signing"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// dkgHandler drives the node's single DKG session from start-dkg
// through round1/round2 delivery to a completed GroupKey.
type dkgHandler struct{ n *Node }

func (h *dkgHandler) Handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case EvStartDKG:
		return h.handleStart(ctx)
	case EvDKGRound1:
		return h.handleRound1(ctx, ev)
	case EvDKGRound2:
		return h.handleRound2(ctx, ev)
	case EvGetGroupKey:
		res := GroupKeyStatusResult{}
		if gk := h.n.groupKey; gk != nil {
			res = GroupKeyStatusResult{
				Installed:    true,
				VerifyingKey: gk.VerifyingKey,
				MinSigners:   gk.MinSigners,
				MaxSigners:   gk.MaxSigners,
			}
		}
		if ev.Result != nil {
			ev.Result <- res
		}
		return nil
	}
	return nil
}

func (h *dkgHandler) handleStart(ctx context.Context) error {
	n := h.n
	if n.dkgSession != nil {
		return nil // already running or complete; start-dkg is idempotent
	}
	participant, err := frost.NewKryptologyDKGParticipant(n.self, n.peers, n.dkgMinSigners)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.dkg.start", err)
	}
	session, err := dkg.New(n.self, n.peers, n.dkgMaxSigners, participant)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.dkg.start", err)
	}
	pkg, err := session.Start()
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.dkg.start", err)
	}
	n.dkgSession = session
	if n.transport == nil {
		return nil
	}
	return n.transport.PublishRound1(ctx, pkg)
}

func (h *dkgHandler) handleRound1(ctx context.Context, ev EvDKGRound1) error {
	n := h.n
	if n.dkgSession == nil {
		return nil
	}
	round2, err := n.dkgSession.HandleRound1(ev.Sender, ev.Package)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.dkg.round1", err)
	}
	for _, pkg := range round2 {
		if pkg.Recipient == n.self {
			if err := n.Enqueue(EvDKGRound2{Sender: n.self, Package: pkg}); err != nil {
				return err
			}
			continue
		}
		if n.transport == nil {
			continue
		}
		if err := n.transport.SendDirect(ctx, pkg.Recipient, DirectMessage{Kind: DirectRound2Package, Round2: pkg}); err != nil {
			return corerr.New(corerr.KindInvalid, "noded.dkg.round1", fmt.Errorf("send round2 to %s: %w", pkg.Recipient, err))
		}
	}
	return nil
}

func (h *dkgHandler) handleRound2(_ context.Context, ev EvDKGRound2) error {
	n := h.n
	if n.dkgSession == nil {
		return nil
	}
	gk, err := n.dkgSession.HandleRound2(ev.Sender, ev.Package)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.dkg.round2", err)
	}
	if gk != nil {
		n.SetGroupKey(gk)
	}
	return nil
}

// signingHandler drives every FROST signing session this node
// participates in, either as coordinator or as a signer.
type signingHandler struct{ n *Node }

func (h *signingHandler) Handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case EvSigningStart:
		return h.handleStart(ctx, ev)
	case EvSignRequestReceived:
		return h.handleSignRequest(ctx, ev)
	case EvCommitmentReceived:
		return h.handleCommitment(ctx, ev)
	case EvSignPackageReceived:
		return h.handleSignPackage(ctx, ev)
	case EvSignatureShareReceived:
		return h.handleShare(ctx, ev)
	case EvGetSigningResult:
		sig, done := h.n.completed[ev.SignID]
		if ev.Result != nil {
			ev.Result <- SigningResultResult{Done: done, Signature: sig}
		}
		return nil
	}
	return nil
}

func (h *signingHandler) handleStart(ctx context.Context, ev EvSigningStart) error {
	n := h.n
	if n.groupKey == nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.start", fmt.Errorf("no group key installed"))
	}
	threshold := n.groupKey.MinSigners
	if threshold <= 0 {
		threshold = len(n.peers)
	}
	var signers []types.Identifier
	for _, p := range n.peers {
		if p == n.self {
			continue
		}
		signers = append(signers, p)
		if len(signers) == threshold {
			break
		}
	}
	if len(signers) < threshold {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.start", fmt.Errorf("not enough peers to reach threshold %d", threshold))
	}

	signer, err := frost.NewKryptologySigner(n.self, n.groupKey.KeyShareData, n.groupKey.VerifyingShares)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.start", err)
	}
	aggregator := frost.NewKryptologyAggregator(n.groupKey.VerifyingKey[:])
	session := signing.NewCoordinator(ev.SignID, ev.Message, n.self, signer, aggregator, threshold, time.Now())
	n.signingManager.Put(session)
	n.signerSetOf[ev.SignID] = signers

	if n.transport == nil {
		return nil
	}
	for _, id := range signers {
		msg := DirectMessage{Kind: DirectSignRequest, SignRequest: DirectSignRequestPayload{SignID: ev.SignID, Message: ev.Message}}
		if err := n.transport.SendDirect(ctx, id, msg); err != nil {
			return corerr.New(corerr.KindInvalid, "noded.signing.start", fmt.Errorf("send sign request to %s: %w", id, err))
		}
	}
	return nil
}

func (h *signingHandler) handleSignRequest(ctx context.Context, ev EvSignRequestReceived) error {
	n := h.n
	if n.groupKey == nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.signRequest", fmt.Errorf("no group key installed"))
	}
	signer, err := frost.NewKryptologySigner(n.self, n.groupKey.KeyShareData, n.groupKey.VerifyingShares)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.signRequest", err)
	}
	session := signing.NewSigner(ev.SignID, ev.Message, n.self, signer, time.Now())
	n.signingManager.Put(session)
	n.coordinatorOf[ev.SignID] = ev.Coordinator

	commitment, err := session.Commit()
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.signRequest", err)
	}
	if n.transport == nil {
		return nil
	}
	return n.transport.SendDirect(ctx, ev.Coordinator, DirectMessage{Kind: DirectCommitment, Commitment: commitment, SignID: ev.SignID})
}

func (h *signingHandler) handleCommitment(ctx context.Context, ev EvCommitmentReceived) error {
	n := h.n
	session := n.signingManager.Get(ev.SignID)
	if session == nil || session.Role != signing.RoleCoordinator {
		return nil
	}
	ready := session.HandleCommitment(ev.Commitment)
	if !ready || n.transport == nil {
		return nil
	}
	commitments := session.Commitments()
	for _, id := range n.signerSetOf[ev.SignID] {
		msg := DirectMessage{Kind: DirectSignPackage, SignPackage: DirectSignPackagePayload{SignID: ev.SignID, Commitments: commitments}}
		if err := n.transport.SendDirect(ctx, id, msg); err != nil {
			return corerr.New(corerr.KindInvalid, "noded.signing.commitment", fmt.Errorf("send sign package to %s: %w", id, err))
		}
	}
	return nil
}

func (h *signingHandler) handleSignPackage(ctx context.Context, ev EvSignPackageReceived) error {
	n := h.n
	session := n.signingManager.Get(ev.SignID)
	if session == nil || session.Role != signing.RoleSigner {
		return nil
	}
	share, err := session.Sign(ev.Commitments)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.signPackage", err)
	}
	coordinator, ok := n.coordinatorOf[ev.SignID]
	n.signingManager.Remove(ev.SignID)
	delete(n.coordinatorOf, ev.SignID)
	if !ok || n.transport == nil {
		return nil
	}
	return n.transport.SendDirect(ctx, coordinator, DirectMessage{Kind: DirectSignatureShare, Share: share, SignID: ev.SignID})
}

func (h *signingHandler) handleShare(_ context.Context, ev EvSignatureShareReceived) error {
	n := h.n
	session := n.signingManager.Get(ev.SignID)
	if session == nil || session.Role != signing.RoleCoordinator {
		return nil
	}
	sig, err := session.HandleShare(ev.Share)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "noded.signing.share", err)
	}
	if sig == nil {
		return nil
	}
	n.signingManager.Remove(ev.SignID)
	delete(n.signerSetOf, ev.SignID)
	n.completed[ev.SignID] = *sig
	return n.Enqueue(EvSigningComplete{SignID: ev.SignID, Signature: *sig})
}

// depositHandler wraps the deposit engine's intake of gossip, oracle
// observations, and the Control-API's CreateDepositIntent/
// GetPendingDepositIntents calls.
type depositHandler struct{ n *Node }

func (h *depositHandler) Handle(ctx context.Context, ev Event) error {
	n := h.n
	switch ev := ev.(type) {
	case EvDepositIntentGossip:
		return n.deposit.IngestIntent(ctx, ev.Intent)
	case EvExternalTxObserved:
		return n.deposit.OnConfirmedTx(ctx, ev.Tx)
	case EvCreateDepositIntent:
		intent, err := n.deposit.CreateDeposit(ctx, ev.UserPubKey, ev.AmountSat, n.params)
		if ev.Result == nil {
			return err
		}
		if err != nil {
			ev.Result <- CreateDepositIntentResult{Err: err}
			return err
		}
		ev.Result <- CreateDepositIntentResult{TrackingID: intent.TrackingID, DepositAddress: intent.DepositAddress}
		return nil
	case EvGetPendingDepositIntents:
		if ev.Result != nil {
			ev.Result <- n.deposit.PendingIntents()
		}
		return nil
	}
	return nil
}

// withdrawalHandler wraps the withdrawal engine's propose/confirm flow,
// the testing-only SpendFunds coordinator path, and finalising a spend
// once its signing session completes.
type withdrawalHandler struct{ n *Node }

func (h *withdrawalHandler) Handle(ctx context.Context, ev Event) error {
	n := h.n
	switch ev := ev.(type) {
	case EvProposeWithdrawal:
		quote, challenge, err := n.withdrawal.Propose(ctx, types.WithdrawalIntent{
			AmountSat:       ev.AmountSat,
			AddressTo:       ev.AddressTo,
			PublicKey:       ev.PublicKey,
			BlocksToConfirm: ev.BlocksToConfirm,
		})
		if ev.Result != nil {
			ev.Result <- ProposeWithdrawalResult{QuoteSat: quote, ChallengeHex: challenge, Err: err}
		}
		return err
	case EvConfirmWithdrawal:
		err := n.withdrawal.Confirm(ctx, ev.ChallengeHex, ev.SignatureHex)
		if ev.Result != nil {
			ev.Result <- err
		}
		return err
	case EvSpendFunds:
		_, err := n.withdrawal.Spend(ctx, ev.AmountSat, ev.AddressTo)
		if ev.Result != nil {
			ev.Result <- err
		}
		return err
	case EvStartSigningControl:
		signID, err := n.StartSigning(ctx, ev.Message)
		if ev.Result != nil {
			ev.Result <- StartSigningResult{SignID: signID, Err: err}
		}
		return err
	case EvSigningComplete:
		if !n.withdrawal.HasSpend(ev.SignID) {
			return nil
		}
		_, err := n.withdrawal.FinalizeAndBroadcast(ctx, ev.SignID, ev.Signature)
		if err != nil {
			n.withdrawal.AbortSpend(ev.SignID)
		}
		return err
	}
	return nil
}

// balanceHandler answers CheckBalance against the chain engine's
// current account table.
type balanceHandler struct{ n *Node }

func (h *balanceHandler) Handle(_ context.Context, ev Event) error {
	n := h.n
	cb, ok := ev.(EvCheckBalance)
	if !ok {
		return nil
	}
	var balance uint64
	if acc := n.chain.State().Accounts[cb.Address]; acc != nil {
		balance = acc.BalanceSat
	}
	if cb.Result != nil {
		cb.Result <- balance
	}
	return nil
}

// consensusHandler wraps the consensus engine's gossip intake, the
// round timer, and the Control-API's TriggerConsensusRound/
// GetChainInfo calls.
type consensusHandler struct{ n *Node }

func (h *consensusHandler) Handle(ctx context.Context, ev Event) error {
	n := h.n
	switch ev := ev.(type) {
	case EvBlockProposalGossip:
		return n.consensus.HandleProposal(ctx, ev.Round, ev.Block)
	case EvVoteGossip:
		if ev.VoteType == consensus.VotePrevote {
			return n.consensus.HandlePrevote(ctx, ev.Sender, ev.Round, ev.BlockHash)
		}
		return n.consensus.HandlePrecommit(ctx, ev.Sender, ev.Round, ev.BlockHash)
	case EvRoundTimerTick:
		if n.consensus.Phase() != consensus.WaitingForPropose {
			return nil
		}
		return n.consensus.StartNewRound(ctx, ev.Now)
	case EvTriggerConsensusRound:
		if !ev.Force && n.consensus.Phase() != consensus.WaitingForPropose {
			err := corerr.New(corerr.KindProtocolViolation, "noded.consensus.trigger", fmt.Errorf("round already in progress"))
			if ev.Result != nil {
				ev.Result <- err
			}
			return err
		}
		err := n.consensus.StartNewRound(ctx, time.Now())
		if ev.Result != nil {
			ev.Result <- err
		}
		return err
	case EvGetChainInfo:
		if ev.Result == nil {
			return nil
		}
		tip, _ := n.chain.Tip()
		ev.Result <- ChainInfoResult{
			LatestHeight:    n.chain.State().BlockHeight,
			LatestBlockHash: tip,
			TotalBlocks:     n.chain.State().BlockHeight,
		}
		return nil
	}
	return nil
}
