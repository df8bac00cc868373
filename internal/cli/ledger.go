package cli

import (
	"fmt"

	"ticket-ledger/internal/services"

	"github.com/spf13/cobra"
)

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Read card and wallet balances, cache first",
	}

	read := func(use, short string, get func(*services.QueryService, *cobra.Command, string) (services.Balance, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := opts.settings()
				if err != nil {
					return err
				}
				svc, closeFn, err := openQueryService(s)
				if err != nil {
					return err
				}
				defer closeFn()

				b, err := get(svc, cmd, args[0])
				if err != nil {
					return err
				}
				source := "ledger"
				if b.Cached {
					source = "cache"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(%s)\n", b.Amount.StringFixed(2), source)
				return nil
			},
		}
	}

	cmd.AddCommand(
		read("card <card-id>", "Print a card balance", func(svc *services.QueryService, cmd *cobra.Command, id string) (services.Balance, error) {
			return svc.CardBalance(cmd.Context(), id)
		}),
		read("wallet <wallet-id>", "Print an organiser wallet balance", func(svc *services.QueryService, cmd *cobra.Command, id string) (services.Balance, error) {
			return svc.WalletBalance(cmd.Context(), id)
		}),
	)
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <transaction-id>",
		Short: "Show where a transaction stands in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			svc, closeFn, err := openQueryService(s)
			if err != nil {
				return err
			}
			defer closeFn()

			tx, err := svc.Transaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:\t%s\ntype:\t%s\namount:\t%s\ncreated:\t%s\n",
				tx.ID, tx.Type, tx.Amount.StringFixed(2), tx.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
			if tx.CanceledAt != nil {
				fmt.Fprintf(out, "canceled:\t%s\n", tx.CanceledAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}
