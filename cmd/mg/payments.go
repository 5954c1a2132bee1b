package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"maiguru/internal/app"
	"maiguru/internal/domain"
	"maiguru/internal/payments"
)

func paymentCmd() *cobra.Command {
	pay := &cobra.Command{Use: "payment", Short: "Charge clients and refund them"}
	pay.AddCommand(paymentCreateCmd())
	pay.AddCommand(paymentShowCmd())
	pay.AddCommand(intentStepCmd("charge", "Charge the client through the gateway", payments.Orchestrator.ChargeIntent))
	pay.AddCommand(intentStepCmd("capture", "Capture an authorized charge", payments.Orchestrator.Capture))
	pay.AddCommand(paymentConfirmCmd())
	pay.AddCommand(paymentRefundCmd())
	pay.AddCommand(paymentRefundsCmd())
	return pay
}

func paymentCreateCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Open the payment intent for a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				p, err := c.Payments.CreatePaymentIntent(ctx, args[0], method, actorID())
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "paypal, wise or mpesa")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func paymentShowCmd() *cobra.Command {
	var byTask bool
	cmd := &cobra.Command{
		Use:   "show <intent-id>",
		Short: "Show a payment intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				var (
					p   domain.PaymentIntent
					err error
				)
				if byTask {
					p, err = c.Payments.GetPaymentIntentByTask(ctx, args[0], actorID())
				} else {
					p, err = c.Payments.GetPaymentIntent(ctx, args[0], actorID())
				}
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	cmd.Flags().BoolVar(&byTask, "task", false, "treat the argument as a task id")
	return cmd
}

func intentStepCmd(name, short string, step func(payments.Orchestrator, context.Context, string, string) (domain.PaymentIntent, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <intent-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				p, err := step(c.Payments, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
}

// paymentConfirmCmd applies a gateway outcome by hand, the same way the
// callback endpoint does.
func paymentConfirmCmd() *cobra.Command {
	var status, reason string
	cmd := &cobra.Command{
		Use:   "confirm <gateway-reference>",
		Short: "Record a gateway outcome for a charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				p, err := c.Payments.ConfirmPayment(ctx, args[0], status, reason)
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "processing, completed or failed")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}

func paymentRefundCmd() *cobra.Command {
	var amount, reason string
	cmd := &cobra.Command{
		Use:   "refund <intent-id>",
		Short: "Refund part or all of a completed payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return domain.ValidationError{Field: "amount", Message: "not a decimal amount"}
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res, err := c.Payments.Refund(ctx, args[0], d, reason, actorID())
				if err != nil {
					return err
				}
				if err := printRecord(res.Refund); err != nil {
					return err
				}
				return printRecord(res.Intent)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to refund")
	cmd.Flags().StringVar(&reason, "reason", "", "refund reason")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentRefundsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refunds <intent-id>",
		Short: "List refunds against an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Payments.ListRefunds(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printList(items, "id", "amount", "status", "reason", "created_at")
			})
		},
	}
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Issue and reconcile invoices"}
	inv.AddCommand(&cobra.Command{
		Use:   "issue <task-id>",
		Short: "Issue the invoice for a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				i, err := c.Payments.IssueInvoice(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(i)
			})
		},
	})
	inv.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task's invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				i, err := c.Payments.GetInvoiceByTask(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(i)
			})
		},
	})
	inv.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List invoices visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Payments.ListInvoices(ctx, actorID())
				if err != nil {
					return err
				}
				return printList(items, "invoice_number", "task_id", "amount", "status", "needs_reconciliation", "due_date")
			})
		},
	})
	inv.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Issue invoices missing for completed tasks (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res, err := c.Payments.ReconcileInvoices(ctx, actorID())
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(res)
				}
				fmt.Printf("issued %d invoice(s), %d failure(s)\n", len(res.Issued), len(res.Failures))
				if len(res.Failures) > 0 {
					return printList(res.Failures, "task_id", "error")
				}
				return nil
			})
		},
	})
	return inv
}

func payoutCmd() *cobra.Command {
	po := &cobra.Command{Use: "payout", Short: "Pay experts"}
	po.AddCommand(payoutStepCmd("initiate <intent-id>", "Pay the expert share of a completed payment", payments.Orchestrator.InitiatePayout))
	po.AddCommand(payoutStepCmd("show <payout-id>", "Show a payout", payments.Orchestrator.GetPayout))
	po.AddCommand(payoutStepCmd("retry <payout-id>", "Dispatch a failed payout again", payments.Orchestrator.RetryPayout))
	po.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List payouts visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Payments.ListPayouts(ctx, actorID())
				if err != nil {
					return err
				}
				return printList(items, "id", "expert_id", "amount", "status", "gateway_reference", "created_at")
			})
		},
	})
	po.AddCommand(payoutConfirmCmd())
	return po
}

func payoutStepCmd(use, short string, step func(payments.Orchestrator, context.Context, string, string) (domain.Payout, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				po, err := step(c.Payments, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(po)
			})
		},
	}
}

func payoutConfirmCmd() *cobra.Command {
	var status, reason string
	cmd := &cobra.Command{
		Use:   "confirm <gateway-reference>",
		Short: "Record a gateway outcome for a payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				po, err := c.Payments.ConfirmPayout(ctx, args[0], status, reason)
				if err != nil {
					return err
				}
				return printRecord(po)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "processing, completed or failed")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}
