package ticket

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testKeyPair(t *testing.T, seed byte) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPairFrom(bytes.NewReader(bytes.Repeat([]byte{seed}, ed25519.SeedSize)))
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return kp
}

func sampleInput() TicketInput {
	return TicketInput{
		TicketID:      "T1",
		EventID:       "E1",
		EventName:     "Open Air",
		SlotID:        "S1",
		UserID:        "U1",
		AttendeeName:  "Sam Doe",
		AttendeeEmail: "sam@example.com",
		TransactionID: "TX1",
		Quantity:      2,
		Seats:         []string{"A1", "A2"},
		EventEndTime:  time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC),
	}
}

var signedAt = time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kp.PublicKey) != ed25519.PublicKeySize {
		t.Fatalf("public key size: got %d", len(kp.PublicKey))
	}
	if len(kp.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("private key size: got %d", len(kp.PrivateKey))
	}

	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(kp.PublicKey, other.PublicKey) {
		t.Fatal("two generated key pairs must differ")
	}
}

func TestKeyPair_StringHidesPrivateKey(t *testing.T) {
	kp := testKeyPair(t, 7)
	priv := EncodeKey(kp.PrivateKey)

	for _, s := range []string{kp.String(), fmt.Sprintf("%v", kp), fmt.Sprintf("%#v", kp), fmt.Sprintf("%s", kp)} {
		if strings.Contains(s, priv) {
			t.Fatalf("formatted key pair leaks private key: %s", s)
		}
	}
}

func TestDecodeKeys(t *testing.T) {
	kp := testKeyPair(t, 1)

	pub, err := DecodePublicKey(EncodeKey(kp.PublicKey))
	if err != nil || !bytes.Equal(pub, kp.PublicKey) {
		t.Fatalf("public key round trip failed: %v", err)
	}
	priv, err := DecodePrivateKey(EncodeKey(kp.PrivateKey))
	if err != nil || !bytes.Equal(priv, kp.PrivateKey) {
		t.Fatalf("private key round trip failed: %v", err)
	}

	if _, err := DecodePublicKey(EncodeKey(kp.PublicKey[:10])); !IsCryptoError(err) {
		t.Fatalf("short public key: got %v, want CryptoError", err)
	}
	if _, err := DecodePrivateKey("not base64!"); !IsCryptoError(err) {
		t.Fatalf("bad base64: got %v, want CryptoError", err)
	}
}

func TestSign_DerivesTimestamps(t *testing.T) {
	kp := testKeyPair(t, 1)
	signer := NewSigner(WithClock(fixedClock(signedAt.Add(123 * time.Millisecond))))

	st, err := signer.Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.Payload.ExpiresAt != "2025-01-01T20:30:00Z" {
		t.Fatalf("expiresAt: got %s", st.Payload.ExpiresAt)
	}
	if st.Payload.IssuedAt != "2024-12-01T12:00:00Z" {
		t.Fatalf("issuedAt: got %s", st.Payload.IssuedAt)
	}
	if st.Payload.EventEndTime != "2025-01-01T20:00:00Z" {
		t.Fatalf("eventEndTime: got %s", st.Payload.EventEndTime)
	}
}

func TestSign_CustomGracePeriod(t *testing.T) {
	kp := testKeyPair(t, 1)
	signer := NewSigner(WithClock(fixedClock(signedAt)), WithGracePeriod(time.Hour))

	st, err := signer.Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Payload.ExpiresAt != "2025-01-01T21:00:00Z" {
		t.Fatalf("expiresAt: got %s", st.Payload.ExpiresAt)
	}
}

func TestSign_Deterministic(t *testing.T) {
	kp := testKeyPair(t, 3)
	signer := NewSigner(WithClock(fixedClock(signedAt)))

	a, err := signer.Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := signer.Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Signature != b.Signature {
		t.Fatalf("signatures differ: %s vs %s", a.Signature, b.Signature)
	}
}

func TestSign_Errors(t *testing.T) {
	kp := testKeyPair(t, 1)
	signer := NewSigner(WithClock(fixedClock(signedAt)))

	corrupted := append(ed25519.PrivateKey(nil), kp.PrivateKey...)
	corrupted[40] ^= 0xFF

	keyTests := []struct {
		name string
		key  ed25519.PrivateKey
	}{
		{name: "nil key", key: nil},
		{name: "short key", key: kp.PrivateKey[:32]},
		{name: "mismatched public half", key: corrupted},
	}
	for _, tt := range keyTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Sign(sampleInput(), tt.key)
			if !IsCryptoError(err) {
				t.Fatalf("got %v, want CryptoError", err)
			}
			if !errors.Is(err, ErrInvalidPrivateKey) {
				t.Fatalf("got %v, want ErrInvalidPrivateKey", err)
			}
		})
	}

	in := sampleInput()
	in.TicketID = ""
	_, err := signer.Sign(in, kp.PrivateKey)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "ticketId" {
		t.Fatalf("got %v, want ValidationError on ticketId", err)
	}
	if IsCryptoError(err) {
		t.Fatal("validation failure must not be a CryptoError")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	kp := testKeyPair(t, 1)
	st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := NewVerifier(WithClock(fixedClock(signedAt.Add(time.Hour)))).Verify(st, kp.PublicKey)
	if !res.Valid || res.Reason != "" {
		t.Fatalf("got %+v, want valid", res)
	}
}

func TestVerify_SurvivesJSONTransport(t *testing.T) {
	kp := testKeyPair(t, 1)
	st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded SignedTicket
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res := NewVerifier(WithClock(fixedClock(signedAt))).Verify(&decoded, kp.PublicKey)
	if !res.Valid {
		t.Fatalf("got %+v, want valid", res)
	}
}

func TestVerify_TamperDetection(t *testing.T) {
	kp := testKeyPair(t, 1)
	verifier := NewVerifier(WithClock(fixedClock(signedAt)))

	tampers := []struct {
		name   string
		mutate func(p *Payload)
	}{
		{name: "ticket id", mutate: func(p *Payload) { p.TicketID = "T2" }},
		{name: "event id", mutate: func(p *Payload) { p.EventID = "E2" }},
		{name: "user id", mutate: func(p *Payload) { p.UserID = "U2" }},
		{name: "quantity", mutate: func(p *Payload) { p.Quantity = 3 }},
		{name: "attendee", mutate: func(p *Payload) { p.AttendeeName = "Eve" }},
		{name: "seat order", mutate: func(p *Payload) { p.Seats = []string{"A2", "A1"} }},
		{name: "extended expiry", mutate: func(p *Payload) { p.ExpiresAt = "2030-01-01T00:00:00Z" }},
		{name: "issued at", mutate: func(p *Payload) { p.IssuedAt = "2024-12-01T12:00:01Z" }},
	}

	for _, tt := range tampers {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.mutate(&st.Payload)

			res := verifier.Verify(st, kp.PublicKey)
			if res.Valid || res.Reason != ReasonInvalidSignature {
				t.Fatalf("got %+v, want invalid signature", res)
			}
		})
	}
}

func TestVerify_Expiry(t *testing.T) {
	kp := testKeyPair(t, 1)
	st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want Result
	}{
		{name: "before end", now: time.Date(2025, 1, 1, 19, 0, 0, 0, time.UTC), want: Result{Valid: true}},
		{name: "inside grace", now: time.Date(2025, 1, 1, 20, 29, 59, 0, time.UTC), want: Result{Valid: true}},
		{name: "at expiry", now: time.Date(2025, 1, 1, 20, 30, 0, 0, time.UTC), want: Result{Valid: true}},
		{name: "one second late", now: time.Date(2025, 1, 1, 20, 30, 1, 0, time.UTC), want: Result{Valid: false, Reason: ReasonExpired}},
		{name: "next day", now: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), want: Result{Valid: false, Reason: ReasonExpired}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewVerifier(WithClock(fixedClock(tt.now))).Verify(st, kp.PublicKey)
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVerify_SignatureCheckedBeforeExpiry(t *testing.T) {
	kp := testKeyPair(t, 1)
	st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.Payload.TicketID = "forged"

	late := NewVerifier(WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	if res := late.Verify(st, kp.PublicKey); res.Reason != ReasonInvalidSignature {
		t.Fatalf("got %+v, want invalid signature on an expired forged ticket", res)
	}
}

func TestVerify_WrongOrMalformedKey(t *testing.T) {
	kp := testKeyPair(t, 1)
	other := testKeyPair(t, 2)
	st, err := NewSigner(WithClock(fixedClock(signedAt))).Sign(sampleInput(), kp.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	verifier := NewVerifier(WithClock(fixedClock(signedAt)))

	keys := map[string]ed25519.PublicKey{
		"other holder": other.PublicKey,
		"nil":          nil,
		"short":        kp.PublicKey[:16],
	}
	for name, pub := range keys {
		t.Run(name, func(t *testing.T) {
			res := verifier.Verify(st, pub)
			if res.Valid || res.Reason != ReasonInvalidSignature {
				t.Fatalf("got %+v, want invalid signature", res)
			}
		})
	}

	bad := *st
	bad.Signature = "%%%"
	if res := verifier.Verify(&bad, kp.PublicKey); res.Reason != ReasonInvalidSignature {
		t.Fatalf("malformed signature: got %+v", res)
	}
	if res := verifier.Verify(nil, kp.PublicKey); res.Reason != ReasonInvalidSignature {
		t.Fatalf("nil ticket: got %+v", res)
	}
}

func TestVerifyRaw(t *testing.T) {
	kp := testKeyPair(t, 1)
	verifier := NewVerifier(WithClock(fixedClock(signedAt)))

	// A payload from a newer version carrying a field this version does not model,
	// signed over its canonical form with keys in a different order.
	raw := json.RawMessage(`{"venueGate":"North","ticketId":"T9","userId":"U1","eventId":"E1","quantity":1,"eventEndTime":"2025-01-01T20:00:00Z","issuedAt":"2024-12-01T12:00:00Z","expiresAt":"2025-01-01T20:30:00Z"}`)
	canonicalForm := `{"eventEndTime":"2025-01-01T20:00:00Z","eventId":"E1","expiresAt":"2025-01-01T20:30:00Z","issuedAt":"2024-12-01T12:00:00Z","quantity":1,"ticketId":"T9","userId":"U1","venueGate":"North"}`
	sig := EncodeKey(ed25519.Sign(kp.PrivateKey, []byte(canonicalForm)))

	if res := verifier.VerifyRaw(raw, sig, kp.PublicKey); !res.Valid {
		t.Fatalf("got %+v, want valid", res)
	}

	tampered := json.RawMessage(strings.Replace(string(raw), "North", "South", 1))
	if res := verifier.VerifyRaw(tampered, sig, kp.PublicKey); res.Reason != ReasonInvalidSignature {
		t.Fatalf("tampered: got %+v", res)
	}

	if res := verifier.VerifyRaw(json.RawMessage(`{broken`), sig, kp.PublicKey); res.Reason != ReasonInvalidSignature {
		t.Fatalf("broken json: got %+v", res)
	}
}

func TestVerify_UnparseableExpiryUnderValidSignature(t *testing.T) {
	kp := testKeyPair(t, 1)
	raw := json.RawMessage(`{"expiresAt":"soon","ticketId":"T1"}`)
	sig := EncodeKey(ed25519.Sign(kp.PrivateKey, []byte(`{"expiresAt":"soon","ticketId":"T1"}`)))

	res := NewVerifier(WithClock(fixedClock(signedAt))).VerifyRaw(raw, sig, kp.PublicKey)
	if res.Valid || res.Reason != ReasonInvalidExpiry {
		t.Fatalf("got %+v, want invalid expiry", res)
	}
}
