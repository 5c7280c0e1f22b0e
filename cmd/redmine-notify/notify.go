package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	notifier "github.com/your-org/roadrunner-redmine-notifier"
)

var (
	excClass   string
	excMessage string
	excFrames  []string
	ctxURL     string
	ctxUser    string
	ctxFields  map[string]string
	notifyTags []string
)

func NewCmdNotify() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Report an exception, creating or updating its Redmine issue",
		Long: `Report an exception to Redmine.

The exception is fingerprinted from its class, message and first application
frame. A new issue is created for an unknown fingerprint, otherwise the open
issue's occurrence count is bumped and a journal note is added.

Examples:
  redmine-notify notify --class RuntimeError --message "boom" \
    --frame "/srv/app/models/user.rb:10:in 'save'" --url https://example.com/users

  REDMINE_URL=https://redmine.example.com REDMINE_API_KEY=secret \
    redmine-notify notify --class Timeout --message "upstream timed out" --tag critical`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&excClass, "class", "", "Exception class name")
	cmd.Flags().StringVarP(&excMessage, "message", "m", "", "Exception message")
	cmd.Flags().StringArrayVarP(&excFrames, "frame", "f", nil, "Backtrace frame, repeatable, outermost last")
	cmd.Flags().StringVar(&ctxURL, "url", "", "Request URL")
	cmd.Flags().StringVar(&ctxUser, "user", "", "Current user")
	cmd.Flags().StringToStringVar(&ctxFields, "context", nil, "Additional context as key=value pairs")
	cmd.Flags().StringArrayVarP(&notifyTags, "tag", "t", nil, "Issue tag, repeatable")
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

func runNotify(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	n, logger, err := newNotifier()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c := notifier.NewContextFromMap(ctxFields)
	if ctxURL != "" {
		c.Set("url", ctxURL)
	}
	if ctxUser != "" {
		c.Set("user", ctxUser)
	}
	c.Tags = notifyTags

	result := n.Notify(ctx, notifier.ExceptionDescriptor{
		ClassName:   excClass,
		Message:     excMessage,
		StackFrames: excFrames,
	}, c)

	if result == nil {
		fmt.Println("No issue reported (throttled, disabled or Redmine unreachable)")
		return nil
	}

	fmt.Printf("Issue #%d %s [%s] occurrence %d\n", result.Issue.ID, result.Action, result.Fingerprint, result.Count)
	return nil
}
