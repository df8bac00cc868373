package cli

import (
	"fmt"
	"os"

	"ticket-ledger/internal/ticket"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// keyFile is the on-disk form written by keygen.
type keyFile struct {
	PublicKey  string `yaml:"publicKey"`
	PrivateKey string `yaml:"privateKey,omitempty"`
}

func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for offline signing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := ticket.GenerateKeyPair()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(keyFile{
				PublicKey:  ticket.EncodeKey(pair.PublicKey),
				PrivateKey: ticket.EncodeKey(pair.PrivateKey),
			})
			if err != nil {
				return fmt.Errorf("failed to marshal key file: %w", err)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "publicKey: %s\n", ticket.EncodeKey(pair.PublicKey))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key file here instead of stdout")
	return cmd
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	return &kf, nil
}

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage users' stored signing keys",
	}

	var rotate bool
	provision := &cobra.Command{
		Use:   "provision <user-id>",
		Short: "Generate, seal and store a signing key pair for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			keys, closeFn, err := openKeyService(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeFn()

			pub, err := keys.Provision(cmd.Context(), args[0], rotate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "publicKey: %s\n", pub)
			return nil
		},
	}
	provision.Flags().BoolVar(&rotate, "rotate", false, "replace an existing key pair; tickets signed with the old key stop verifying")

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			keys, closeFn, err := openKeyService(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeFn()

			pub, err := keys.PublicKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "publicKey: %s\n", ticket.EncodeKey(pub))
			return nil
		},
	}

	cmd.AddCommand(provision, show)
	return cmd
}
