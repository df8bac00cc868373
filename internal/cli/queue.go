package cli

import (
	"fmt"
	"strconv"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/services"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	var (
		jobType       string
		userID        string
		cardID        string
		transactionID string
		amount        string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Record a transaction and queue it for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}

			svc, closeFn, err := openTransactionService(s)
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := svc.Submit(cmd.Context(), services.SubmitRequest{
				Type:          models.JobType(jobType),
				UserID:        userID,
				CardID:        cardID,
				TransactionID: transactionID,
				Amount:        value,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "DEPOSIT, WITHDRAWAL, PAYOUT or REFUND")
	cmd.Flags().StringVar(&userID, "user", "", "user id (organiser id for PAYOUT)")
	cmd.Flags().StringVar(&cardID, "card", "", "card id")
	cmd.Flags().StringVar(&transactionID, "transaction", "", "purchase transaction id (REFUND)")
	cmd.Flags().StringVar(&amount, "amount", "", "decimal amount")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newDLQCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-lettered jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			queue, client, err := openQueue(s)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := queue.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			printItems(cmd, items)
			return nil
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue <n>",
		Short: "Move the n-th dead-lettered job (as numbered by list) back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid position %q", args[0])
			}
			s, err := opts.settings()
			if err != nil {
				return err
			}
			queue, client, err := openQueue(s)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := queue.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if n > len(items) {
				return fmt.Errorf("dead-letter queue has %d jobs", len(items))
			}
			if err := queue.RequeueDeadLetter(cmd.Context(), items[n-1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func newProcessingCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processing",
		Short: "Inspect jobs currently claimed by a worker",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List claimed jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			queue, client, err := openQueue(s)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := queue.Processing(cmd.Context())
			if err != nil {
				return err
			}
			printItems(cmd, items)
			return nil
		},
	})
	return cmd
}

func printItems(cmd *cobra.Command, items []string) {
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
		return
	}
	for i, item := range items {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i+1, item)
	}
}

func newQueuesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Print pending, processing and dead-letter lengths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			queue, client, err := openQueue(s)
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := queue.Lengths(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending\t%d\nprocessing\t%d\ndead\t%d\n", n.Pending, n.Processing, n.DeadLetter)
			return nil
		},
	}
}
