package main

import (
	"fmt"
	"io"
	"os"

	"github.com/busybox42/minimta/internal/smtp"
	"github.com/spf13/cobra"
)

func newClientCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [address] [port]",
		Short: "Send one message to a server",
		Long: `Connect to a server and send one message. Without --from and --to the
sender, recipient and body are read interactively from standard input; the
body ends with a line containing only ".".`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, opts, args)
		},
	}

	cmd.Flags().String("identifier", "", "token sent with HELLO (overrides config)")
	cmd.Flags().String("from", "", "sender address")
	cmd.Flags().String("to", "", "recipient address")
	cmd.Flags().String("body-file", "", "file holding the message body (default: standard input)")

	return cmd
}

func runClient(cmd *cobra.Command, opts *rootOptions, args []string) error {
	cfg, err := loadConfig(opts, args)
	if err != nil {
		return err
	}
	if identifier, _ := cmd.Flags().GetString("identifier"); identifier != "" {
		cfg.Client.Identifier = identifier
	}

	composer, err := buildComposer(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	client, err := smtp.Dial(ctx, cfg.ClientAddr(), cfg.ClientConfig(), composer, logger)
	if err != nil {
		return err
	}
	return client.Send(ctx)
}

// buildComposer picks a scripted composer when both addresses are given on
// the command line and an interactive one otherwise.
func buildComposer(cmd *cobra.Command) (smtp.Composer, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	if from == "" || to == "" {
		return smtp.NewPromptComposer(cmd.InOrStdin(), cmd.OutOrStdout()), nil
	}

	var body []byte
	var err error
	if bodyFile, _ := cmd.Flags().GetString("body-file"); bodyFile != "" {
		body, err = os.ReadFile(bodyFile)
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return smtp.NewMessageComposer(from, to, string(body)), nil
}
