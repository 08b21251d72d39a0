package main

import (
	"context"
	"fmt"
	"strings"

	"mailchat_server/core/domain"
	"mailchat_server/internal/bootstrap"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type resolveOutput struct {
	Criteria *domain.QueryCriteria `json:"criteria"`
	Emails   []resolvedEmail       `json:"emails"`
}

type resolvedEmail struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Date      string `json:"date"`
	Subject   string `json:"subject"`
}

func newResolveCmd() *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "resolve <text>",
		Short: "Show the criteria and emails a message resolves to",
		Long: `Run query refinement on free text without generating a reply.

Prints the extracted criteria and the selected emails as JSON, which is
useful for checking how a sender name is disambiguated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withDependencies(cmd, func(ctx context.Context, d *bootstrap.Dependencies) error {
				criteria, emails, err := d.Resolver.Resolve(ctx, text, domain.ParseIntent(intent))
				if err != nil {
					return err
				}

				res := resolveOutput{Criteria: criteria, Emails: make([]resolvedEmail, 0, len(emails))}
				for _, e := range emails {
					res.Emails = append(res.Emails, resolvedEmail{
						MessageID: e.MessageID,
						From:      e.From,
						Date:      e.Date,
						Subject:   e.Subject,
					})
				}

				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&intent, "intent", string(domain.IntentGeneral), "intent: reply, compose, explain, list, general")
	return cmd
}
