package services

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"

	"ticket-ledger/internal/ticket"
)

type KeyProvider interface {
	SigningKey(ctx context.Context, userID string) (ed25519.PrivateKey, error)
	PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error)
}

type TicketService struct {
	keys     KeyProvider
	signer   *ticket.Signer
	verifier *ticket.Verifier
	logger   *slog.Logger
}

func NewTicketService(
	keys KeyProvider,
	signer *ticket.Signer,
	verifier *ticket.Verifier,
	logger *slog.Logger,
) *TicketService {
	return &TicketService{
		keys:     keys,
		signer:   signer,
		verifier: verifier,
		logger:   logger,
	}
}

// Issue signs a ticket with the holder's key.
func (s *TicketService) Issue(ctx context.Context, in ticket.TicketInput) (*ticket.SignedTicket, error) {
	priv, err := s.keys.SigningKey(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key for %s: %w", in.UserID, err)
	}
	return s.signer.Sign(in, priv)
}

// Scan verifies a presented ticket against the holder named in its payload.
// A holder without a key fails like a bad signature. The error is only set when
// the key could not be looked up at all.
func (s *TicketService) Scan(ctx context.Context, st *ticket.SignedTicket) (ticket.Result, error) {
	if st == nil {
		return s.record(ticket.Result{Reason: ticket.ReasonInvalidSignature}), nil
	}
	pub, res, err := s.holderKey(ctx, st.Payload.UserID)
	if err != nil || !res.Valid {
		return s.record(res), err
	}
	return s.record(s.verifier.Verify(st, pub)), nil
}

// ScanRaw is Scan for a payload kept byte-for-byte as it was presented.
func (s *TicketService) ScanRaw(ctx context.Context, payload json.RawMessage, signature string) (ticket.Result, error) {
	var holder struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(payload, &holder); err != nil {
		return s.record(ticket.Result{Reason: ticket.ReasonInvalidSignature}), nil
	}

	pub, res, err := s.holderKey(ctx, holder.UserID)
	if err != nil || !res.Valid {
		return s.record(res), err
	}
	return s.record(s.verifier.VerifyRaw(payload, signature, pub)), nil
}

func (s *TicketService) holderKey(ctx context.Context, userID string) (ed25519.PublicKey, ticket.Result, error) {
	failed := ticket.Result{Reason: ticket.ReasonInvalidSignature}
	if userID == "" {
		return nil, failed, nil
	}

	pub, err := s.keys.PublicKey(ctx, userID)
	switch {
	case err == nil:
		return pub, ticket.Result{Valid: true}, nil
	case isUnknownHolder(err), ticket.IsCryptoError(err):
		return nil, failed, nil
	default:
		return nil, failed, fmt.Errorf("failed to load public key for %s: %w", userID, err)
	}
}

func (s *TicketService) record(res ticket.Result) ticket.Result {
	if !res.Valid {
		s.logger.Info("ticket rejected", "reason", res.Reason)
	}
	return res
}
