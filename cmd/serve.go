package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Leganyst/salon-crm/internal/channels/telegram"
	"github.com/Leganyst/salon-crm/internal/httpapi"
	"github.com/Leganyst/salon-crm/internal/rpc"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP API, gRPC календаря, Telegram-бот и напоминания",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "выполнить миграции перед стартом")
	return cmd
}

func runServe(cmd *cobra.Command, migrate bool) error {
	ctx := cmd.Context()

	// 1. Конфиг, БД, кэш.
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if migrate {
		if err := a.migrate(); err != nil {
			return err
		}
	}

	// 2. Каналы связи и сервисы.
	ch, err := a.openChannels()
	if err != nil {
		return err
	}
	svc := a.buildServices(a.notifier(ch))

	// 3. HTTP API и вебхуки Meta.
	deps := httpapi.Deps{
		Identity:            svc.identity,
		Catalog:             svc.catalog,
		Clients:             svc.clients,
		Availability:        svc.availability,
		Bookings:            svc.bookings,
		Loyalty:             svc.loyalty,
		Payments:            svc.payments,
		Analytics:           svc.analytics,
		Assistant:           svc.assistant,
		MetaVerifyToken:     a.cfg.MetaVerifyToken,
		MetaAppSecret:       a.cfg.MetaAppSecret,
		TelegramBotUsername: a.cfg.TelegramBotUsername,
		CORSOrigins:         a.cfg.CORSOrigins,
		Log:                 a.log,
	}
	if ch.meta != nil {
		salonID, err := resolveSalonID(ctx, svc.catalog, a.cfg.MetaSalonID, "meta")
		if err != nil {
			return err
		}
		deps.Meta = ch.meta
		deps.MetaSalonID = salonID
	}
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 4. gRPC-сервис календаря.
	grpcServer, health := rpc.NewServer(rpc.NewCalendarService(svc.availability, svc.bookings, a.log), a.log)
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.GRPCAddr, err)
	}

	// 5. Telegram-бот.
	var bot *telegram.Bot
	if ch.botAPI != nil {
		salonID, err := resolveSalonID(ctx, svc.catalog, a.cfg.TelegramSalonID, "telegram")
		if err != nil {
			return err
		}
		bot = telegram.NewBot(ch.botAPI, telegram.Config{
			SalonID:     salonID,
			BotUsername: a.cfg.TelegramBotUsername,
		}, telegram.Deps{
			Identity:  svc.identity,
			Catalog:   svc.catalog,
			Clients:   svc.clients,
			Bookings:  svc.bookings,
			Loyalty:   svc.loyalty,
			Assistant: svc.assistant,
		}, a.log)
	} else {
		a.log.Warn("TELEGRAM_BOT_TOKEN is empty, bot is disabled")
	}

	// 6. Запуск и грейсфул-шатдаун по SIGINT/SIGTERM.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", a.cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.log.WithField("addr", a.cfg.GRPCAddr).Info("grpc server listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}
	g.Go(func() error { return svc.reminders.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		health.Shutdown()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
