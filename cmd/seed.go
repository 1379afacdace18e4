package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Leganyst/salon-crm/internal/seed"
)

func newSeedCmd() *cobra.Command {
	opts := seed.Options{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Заполнить базу демонстрационными салонами",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.migrate(); err != nil {
				return err
			}

			svc := a.buildServices(a.notifier(&channels{}))
			results, err := seed.Run(cmd.Context(), seed.Deps{
				Identity: svc.identity,
				Catalog:  svc.catalog,
				Clients:  svc.clients,
			}, opts, a.log)
			if err != nil {
				return err
			}

			password := opts.Password
			if password == "" {
				password = seed.DefaultPassword
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s\t%s\t%s / %s\tclients: %d\n", r.SalonID, r.Name, r.OwnerEmail, password, r.Clients)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Salons, "salons", 1, "сколько салонов создать")
	cmd.Flags().IntVar(&opts.Clients, "clients", 50, "клиентов на салон")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "зерно генератора, 0 — случайное")
	cmd.Flags().StringVar(&opts.Password, "password", "", "пароль владельцев (по умолчанию "+seed.DefaultPassword+")")
	return cmd
}
