package ticket

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPrivateKey = errors.New("invalid ed25519 private key")
	ErrInvalidPublicKey  = errors.New("invalid ed25519 public key")
)

// CryptoError reports malformed key material or signature bytes. Callers map it to
// "ticket invalid" and never to a business validation message.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("ticket crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// ValidationError reports a ticket input that cannot be signed.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ticket input: %s is required", e.Field)
}

// IsCryptoError reports whether err is, or wraps, a *CryptoError.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}
