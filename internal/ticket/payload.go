package ticket

import (
	"fmt"
	"time"
)

// TimeLayout is the timestamp format inside signed payloads. Second precision in
// UTC keeps the signed bytes identical across languages.
const TimeLayout = time.RFC3339

// DefaultGracePeriod is how long after the event ends a ticket still scans.
const DefaultGracePeriod = 30 * time.Minute

// TicketInput is what a caller supplies to be signed. It deliberately has no
// expiry or issue time: both are derived by the signer.
type TicketInput struct {
	TicketID      string
	EventID       string
	EventName     string
	SlotID        string
	UserID        string
	AttendeeName  string
	AttendeeEmail string
	TransactionID string
	Quantity      int
	Seats         []string
	EventEndTime  time.Time
}

func (in TicketInput) validate() error {
	switch {
	case in.TicketID == "":
		return &ValidationError{Field: "ticketId"}
	case in.EventID == "":
		return &ValidationError{Field: "eventId"}
	case in.UserID == "":
		return &ValidationError{Field: "userId"}
	case in.EventEndTime.IsZero():
		return &ValidationError{Field: "eventEndTime"}
	}
	return nil
}

// Payload is the signed body of a ticket. Every field is covered by the signature.
type Payload struct {
	TicketID      string   `json:"ticketId"`
	EventID       string   `json:"eventId"`
	EventName     string   `json:"eventName,omitempty"`
	SlotID        string   `json:"slotId,omitempty"`
	UserID        string   `json:"userId"`
	AttendeeName  string   `json:"attendeeName,omitempty"`
	AttendeeEmail string   `json:"attendeeEmail,omitempty"`
	TransactionID string   `json:"transactionId,omitempty"`
	Quantity      int      `json:"quantity"`
	Seats         []string `json:"seats,omitempty"`
	EventEndTime  string   `json:"eventEndTime"`
	IssuedAt      string   `json:"issuedAt"`
	ExpiresAt     string   `json:"expiresAt"`
}

// Expiry parses ExpiresAt.
func (p Payload) Expiry() (time.Time, error) {
	t, err := time.Parse(TimeLayout, p.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse expiresAt: %w", err)
	}
	return t, nil
}

// SignedTicket is the payload plus a detached base64 Ed25519 signature over its
// canonical encoding. Its JSON form is what QR rendering and email delivery consume.
type SignedTicket struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
}
