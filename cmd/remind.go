package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRemindCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Рассылка напоминаний о записях",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ch, err := a.openChannels()
			if err != nil {
				return err
			}
			svc := a.buildServices(a.notifier(ch))

			if !once {
				return svc.reminders.Run(cmd.Context())
			}
			stats, err := svc.reminders.RunOnce(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due: %d, sent: %d, failed: %d\n", stats.Due, stats.Sent, stats.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "один проход и выход (для cron)")
	return cmd
}
