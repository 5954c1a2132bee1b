package main

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"maiguru/internal/app"
	"maiguru/internal/domain"
	"maiguru/internal/engine"
	"maiguru/internal/repo"
)

var taskColumns = []string{"id", "title", "status", "client_id", "assigned_expert_id", "final_price"}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Drive the task lifecycle"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskStepCmd("start", "Start work (assigned -> in_progress)", engine.Engine.StartWork))
	task.AddCommand(taskStepCmd("review", "Hand the pending submission over for review", engine.Engine.MarkForReview))
	task.AddCommand(taskRequestRevisionCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskPriceCmd())
	task.AddCommand(taskCompleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var estimate string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if estimate != "" {
				d, err := decimal.NewFromString(estimate)
				if err != nil {
					return domain.ValidationError{Field: "estimate", Message: "not a decimal amount"}
				}
				opts.EstimatedPrice = &d
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				opts.ActorID = actorID()
				t, err := c.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "owning client (defaults to the caller)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "complexity")
	cmd.Flags().StringVar(&opts.BudgetTier, "tier", "", "budget tier")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&estimate, "estimate", "", "client's price estimate")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Engine.ListTasks(ctx, f, actorID())
				if err != nil {
					return err
				}
				return printList(items, taskColumns...)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "filter by client")
	cmd.Flags().StringVar(&f.ExpertID, "expert", "", "filter by assigned expert")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return taskStepCmd("show", "Show a task", engine.Engine.GetTask)
}

// taskStepCmd builds a command for an engine call that only needs the task id.
func taskStepCmd(name, short string, step func(engine.Engine, context.Context, string, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				t, err := step(c.Engine, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	var expert string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign an expert (open -> assigned)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				t, err := c.Engine.AssignExpert(ctx, args[0], expert, actorID())
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&expert, "expert", "", "expert id")
	_ = cmd.MarkFlagRequired("expert")
	return cmd
}

func taskRequestRevisionCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "request-revision <task-id>",
		Short: "Send the pending submission back with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				t, err := c.Engine.RequestRevision(ctx, args[0], feedback, actorID())
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what needs to change")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task that is not yet terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				t, err := c.Engine.CancelTask(ctx, args[0], reason, actorID())
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskPriceCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "price <task-id>",
		Short: "Fix the final price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return domain.ValidationError{Field: "amount", Message: "not a decimal amount"}
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				t, err := c.Engine.PriceTask(ctx, args[0], d, actorID())
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "final price")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Accept the pending submission and complete the task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res, err := c.Engine.CompleteTask(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printAccept(c, res)
			})
		},
	}
}

func printAccept(c *app.Context, res engine.AcceptResult) error {
	if res.InvoiceError != nil {
		c.Log.WithError(res.InvoiceError).WithField("task_id", res.Task.ID).Warn("invoice not issued; run 'mg invoice reconcile'")
	}
	if err := printRecord(res.Task); err != nil {
		return err
	}
	if res.Invoice != nil {
		return printRecord(res.Invoice)
	}
	return nil
}
