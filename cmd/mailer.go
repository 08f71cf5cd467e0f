/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/smehub/apiserver/config"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/mail"
	"github.com/smehub/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer worker command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued e-mail over SMTP",
	Long: `Consumes the e-mail channel of the configured message queue and delivers
each message over SMTP. Requires MQ_BACKEND=rabbitmq or MQ_BACKEND=pubsub.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.LoadConfig()
		log := logging.New(os.Stdout, cfg.IsProduction()).With("component", "mailer")

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("mailer requires a message queue backend")
		}
		defer queue.Close()

		log.Info(ctx, "mailer consuming", "channel", cfg.MQ.EmailChannel)
		err = mail.Consume(ctx, queue, cfg.MQ.EmailChannel, mail.NewSMTPMailer(cfg.SMTP), log, !cfg.IsProduction())
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
