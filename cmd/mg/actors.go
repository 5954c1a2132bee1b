package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"maiguru/internal/app"
	"maiguru/internal/domain"
	"maiguru/internal/engine"
)

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Manage accounts and payout destinations"}
	act.AddCommand(actorCreateCmd())
	act.AddCommand(actorShowCmd())
	act.AddCommand(actorKeyCmd())
	act.AddCommand(actorAddMethodCmd())
	act.AddCommand(actorMethodsCmd())
	act.AddCommand(actorVerifyMethodCmd())
	return act
}

func actorCreateCmd() *cobra.Command {
	var opts engine.ActorCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an account (the first one needs no --actor-id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				opts.ActorID = actorID()
				a, err := c.Engine.CreateActor(ctx, opts)
				if err != nil {
					return err
				}
				return printRecord(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "client, expert or admin")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				a, err := c.Engine.GetActor(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(a)
			})
		},
	}
}

func actorKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <actor-id>",
		Short: "Mint an API key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				plain, key, err := c.Engine.CreateAPIKey(ctx, args[0], name, actorID())
				if err != nil {
					return err
				}
				return printRecord(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func actorAddMethodCmd() *cobra.Command {
	var kind, recipient string
	var primary bool
	cmd := &cobra.Command{
		Use:   "add-method <expert-id>",
		Short: "Register a payout destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParsePaymentMethodKind(kind)
			if err != nil {
				return err
			}
			method, err := domain.NewPayoutMethod(k, recipient)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				m, err := c.Engine.AddPaymentMethod(ctx, args[0], method, primary, actorID())
				if err != nil {
					return err
				}
				return printRecord(m)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "paypal, wise or mpesa")
	cmd.Flags().StringVar(&recipient, "recipient", "", "PayPal email, Wise account id or M-Pesa phone")
	cmd.Flags().BoolVar(&primary, "primary", false, "make this the primary destination")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func actorMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods <expert-id>",
		Short: "List payout destinations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Engine.ListPaymentMethods(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printList(items, "id", "method", "is_primary", "is_verified")
			})
		},
	}
}

func actorVerifyMethodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-method <method-id>",
		Short: "Mark a payout destination verified (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				m, err := c.Engine.VerifyPaymentMethod(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				fmt.Printf("payment method %s verified\n", m.ID)
				return nil
			})
		},
	}
}
