package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	notifier "github.com/your-org/roadrunner-redmine-notifier"
)

var (
	issueSubject     string
	issueDescription string
	issueProject     string
	issueTracker     int
	issueTags        []string
)

func NewCmdCreateIssue() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-issue",
		Short: "Create a custom Redmine issue",
		Long: `Create a custom Redmine issue, bypassing fingerprinting and throttling.

Project and tracker default to the configured values. Pass "-" as the
description to read it from stdin.

Examples:
  redmine-notify create-issue --subject "Nightly import failed" --description "see logs" --tag import

  journalctl -u importer | redmine-notify create-issue --subject "Importer crash" --description -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateIssue(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&issueSubject, "subject", "s", "", "Issue subject")
	cmd.Flags().StringVarP(&issueDescription, "description", "d", "", "Issue description, - reads stdin")
	cmd.Flags().StringVarP(&issueProject, "project", "p", "", "Project identifier (defaults to config)")
	cmd.Flags().IntVar(&issueTracker, "tracker", 0, "Tracker id (defaults to config)")
	cmd.Flags().StringArrayVarP(&issueTags, "tag", "t", nil, "Issue tag, repeatable")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runCreateIssue(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	description := issueDescription
	if description == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read description from stdin: %w", err)
		}
		description = string(data)
	}

	n, logger, err := newNotifier()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	issue := n.CreateIssue(ctx, issueSubject, description, notifier.IssueOptions{
		ProjectID: issueProject,
		TrackerID: issueTracker,
		Tags:      issueTags,
	})
	if issue == nil {
		return fmt.Errorf("issue was not created, see logs for details")
	}

	fmt.Printf("Created issue #%d: %s\n", issue.ID, issue.Subject)
	return nil
}
