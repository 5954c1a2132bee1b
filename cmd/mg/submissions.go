package main

import (
	"context"

	"github.com/spf13/cobra"

	"maiguru/internal/app"
	"maiguru/internal/domain"
	"maiguru/internal/engine"
)

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Deliver and review work"}
	sub.AddCommand(submissionCreateCmd())
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionAcceptCmd())
	sub.AddCommand(submissionReviewCmd("reject", "Reject a submission and reopen the task", false, engine.Engine.RejectSubmission))
	sub.AddCommand(submissionReviewCmd("request-revision", "Ask the expert to revise a submission", true, engine.Engine.RequestSubmissionRevision))
	return sub
}

func submissionCreateCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Deliver work for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				s, err := c.Engine.CreateSubmission(ctx, args[0], content, actorID())
				if err != nil {
					return err
				}
				return printRecord(s)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "deliverable (text or link)")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func submissionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's submissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Engine.ListSubmissions(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printList(items, "id", "expert_id", "status", "feedback", "created_at")
			})
		},
	}
}

func submissionAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <submission-id>",
		Short: "Accept a submission; completes the task and issues the invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				res, err := c.Engine.AcceptSubmission(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printAccept(c, res)
			})
		},
	}
}

type reviewFunc func(engine.Engine, context.Context, string, string, string) (domain.Submission, domain.Task, error)

func submissionReviewCmd(name, short string, needFeedback bool, review reviewFunc) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   name + " <submission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				s, t, err := review(c.Engine, ctx, args[0], feedback, actorID())
				if err != nil {
					return err
				}
				if err := printRecord(s); err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback")
	if needFeedback {
		_ = cmd.MarkFlagRequired("feedback")
	}
	return cmd
}
