package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"ticket-ledger/internal/ticket"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errTicketRejected = errors.New("ticket rejected")

// ticketFile is the sign input. YAML, so plain JSON works too.
type ticketFile struct {
	TicketID      string   `yaml:"ticketId"`
	EventID       string   `yaml:"eventId"`
	EventName     string   `yaml:"eventName"`
	SlotID        string   `yaml:"slotId"`
	UserID        string   `yaml:"userId"`
	AttendeeName  string   `yaml:"attendeeName"`
	AttendeeEmail string   `yaml:"attendeeEmail"`
	TransactionID string   `yaml:"transactionId"`
	Quantity      int      `yaml:"quantity"`
	Seats         []string `yaml:"seats"`
	EventEndTime  string   `yaml:"eventEndTime"`
}

func (f ticketFile) input() (ticket.TicketInput, error) {
	end, err := time.Parse(time.RFC3339, f.EventEndTime)
	if err != nil {
		return ticket.TicketInput{}, fmt.Errorf("eventEndTime: %w", err)
	}
	return ticket.TicketInput{
		TicketID:      f.TicketID,
		EventID:       f.EventID,
		EventName:     f.EventName,
		SlotID:        f.SlotID,
		UserID:        f.UserID,
		AttendeeName:  f.AttendeeName,
		AttendeeEmail: f.AttendeeEmail,
		TransactionID: f.TransactionID,
		Quantity:      f.Quantity,
		Seats:         f.Seats,
		EventEndTime:  end,
	}, nil
}

func readTicketInput(path string) (ticket.TicketInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ticket.TicketInput{}, fmt.Errorf("failed to read ticket input: %w", err)
	}
	var tf ticketFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return ticket.TicketInput{}, fmt.Errorf("failed to parse ticket input: %w", err)
	}
	return tf.input()
}

// presentedTicket keeps the payload bytes as presented so unknown fields stay signed.
type presentedTicket struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

func readPresentedTicket(path string) (*presentedTicket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket: %w", err)
	}
	var pt presentedTicket
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("failed to parse ticket: %w", err)
	}
	return &pt, nil
}

func printSigned(cmd *cobra.Command, signed *ticket.SignedTicket) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(signed)
}

func printResult(cmd *cobra.Command, res ticket.Result) error {
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s", errTicketRejected, res.Reason)
	}
	return nil
}

func newSignCmd(opts *rootOptions) *cobra.Command {
	var keyPath, inputPath string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a ticket with a key file from keygen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			kf, err := readKeyFile(keyPath)
			if err != nil {
				return err
			}
			priv, err := ticket.DecodePrivateKey(kf.PrivateKey)
			if err != nil {
				return err
			}
			in, err := readTicketInput(inputPath)
			if err != nil {
				return err
			}

			signed, err := ticket.NewSigner(ticket.WithGracePeriod(s.GracePeriod)).Sign(in, priv)
			if err != nil {
				return err
			}
			return printSigned(cmd, signed)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "key file written by keygen")
	cmd.Flags().StringVar(&inputPath, "input", "", "ticket input (YAML or JSON)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var keyPath, publicKey, ticketPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed ticket against a public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			if publicKey == "" {
				if keyPath == "" {
					return errors.New("one of --public-key or --key is required")
				}
				kf, err := readKeyFile(keyPath)
				if err != nil {
					return err
				}
				publicKey = kf.PublicKey
			}
			pub, err := ticket.DecodePublicKey(publicKey)
			if err != nil {
				return err
			}
			presented, err := readPresentedTicket(ticketPath)
			if err != nil {
				return err
			}

			verifier := ticket.NewVerifier(ticket.WithGracePeriod(s.GracePeriod))
			return printResult(cmd, verifier.VerifyRaw(presented.Payload, presented.Signature, pub))
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "key file written by keygen")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64 public key")
	cmd.Flags().StringVar(&ticketPath, "ticket", "", "signed ticket JSON")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

func newIssueCmd(opts *rootOptions) *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a ticket with the holder's stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			in, err := readTicketInput(inputPath)
			if err != nil {
				return err
			}
			tickets, closeFn, err := openTicketService(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeFn()

			signed, err := tickets.Issue(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printSigned(cmd, signed)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "ticket input (YAML or JSON)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	var ticketPath string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Verify a presented ticket against its holder's stored public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			presented, err := readPresentedTicket(ticketPath)
			if err != nil {
				return err
			}
			tickets, closeFn, err := openTicketService(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := tickets.ScanRaw(cmd.Context(), presented.Payload, presented.Signature)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&ticketPath, "ticket", "", "signed ticket JSON")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}
