package ticket

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"time"

	"ticket-ledger/internal/canonical"
)

// Verification reasons
const (
	ReasonInvalidSignature = "Invalid signature"
	ReasonExpired          = "Ticket expired"
	ReasonInvalidExpiry    = "Invalid expiry"
)

// Result is the outcome of a verification. Reason is empty when Valid is true.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type Verifier struct {
	opts options
}

func NewVerifier(opts ...Option) *Verifier {
	return &Verifier{opts: newOptions(opts)}
}

// Verify checks the signature first and only then the expiry, so nothing about
// expiry handling is observable on a tampered payload.
func (v *Verifier) Verify(st *SignedTicket, pub ed25519.PublicKey) Result {
	if st == nil {
		return invalid(ReasonInvalidSignature)
	}
	msg, err := canonical.EncodeBytes(st.Payload)
	if err != nil {
		return invalid(ReasonInvalidSignature)
	}
	if !verifySignature(msg, st.Signature, pub) {
		return invalid(ReasonInvalidSignature)
	}
	return v.checkExpiry(st.Payload.ExpiresAt)
}

// VerifyRaw verifies a payload exactly as received, including fields this version
// does not know about.
func (v *Verifier) VerifyRaw(payload json.RawMessage, signature string, pub ed25519.PublicKey) Result {
	msg, err := canonical.EncodeJSON(payload)
	if err != nil {
		return invalid(ReasonInvalidSignature)
	}
	if !verifySignature(msg, signature, pub) {
		return invalid(ReasonInvalidSignature)
	}

	var stamp struct {
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(payload, &stamp); err != nil {
		return invalid(ReasonInvalidExpiry)
	}
	return v.checkExpiry(stamp.ExpiresAt)
}

func (v *Verifier) checkExpiry(expiresAt string) Result {
	exp, err := time.Parse(TimeLayout, expiresAt)
	if err != nil {
		return invalid(ReasonInvalidExpiry)
	}
	if v.opts.now().After(exp) {
		return invalid(ReasonExpired)
	}
	return Result{Valid: true}
}

func verifySignature(msg []byte, signature string, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}
