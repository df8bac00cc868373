package ticket

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"ticket-ledger/internal/canonical"
)

type options struct {
	now   func() time.Time
	grace time.Duration
}

type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithGracePeriod sets how long after the event end a ticket stays valid.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, grace: DefaultGracePeriod}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Signer struct {
	opts options
}

func NewSigner(opts ...Option) *Signer {
	return &Signer{opts: newOptions(opts)}
}

// Sign stamps issuedAt and expiresAt onto the input, canonically encodes the result
// and signs it with priv. Ed25519 is deterministic: the same payload and key always
// produce the same signature.
func (s *Signer) Sign(in TicketInput, priv ed25519.PrivateKey) (*SignedTicket, error) {
	if err := checkPrivateKey(priv); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	issuedAt := s.opts.now().UTC().Truncate(time.Second)
	endTime := in.EventEndTime.UTC().Truncate(time.Second)
	expiresAt := endTime.Add(s.opts.grace)

	payload := Payload{
		TicketID:      in.TicketID,
		EventID:       in.EventID,
		EventName:     in.EventName,
		SlotID:        in.SlotID,
		UserID:        in.UserID,
		AttendeeName:  in.AttendeeName,
		AttendeeEmail: in.AttendeeEmail,
		TransactionID: in.TransactionID,
		Quantity:      in.Quantity,
		Seats:         append([]string(nil), in.Seats...),
		EventEndTime:  endTime.Format(TimeLayout),
		IssuedAt:      issuedAt.Format(TimeLayout),
		ExpiresAt:     expiresAt.Format(TimeLayout),
	}

	msg, err := canonical.EncodeBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket payload: %w", err)
	}

	sig := ed25519.Sign(priv, msg)

	return &SignedTicket{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// checkPrivateKey rejects keys of the wrong size and keys whose public half does
// not match the seed, which would otherwise sign without error and never verify.
func checkPrivateKey(priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return &CryptoError{Op: "sign", Err: ErrInvalidPrivateKey}
	}
	derived := ed25519.NewKeyFromSeed(priv.Seed())
	if subtle.ConstantTimeCompare(derived, priv) != 1 {
		return &CryptoError{Op: "sign", Err: ErrInvalidPrivateKey}
	}
	return nil
}
