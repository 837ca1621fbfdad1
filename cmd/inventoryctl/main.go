// Command inventoryctl - утилита для локальной разработки Inventory Service.
//
//	inventoryctl session --user alice            выдать x-session-id для HTTP API
//	inventoryctl event cancel --user alice       отправить checkout.cancelled
//	inventoryctl event paid --user alice --order o-1   отправить order.payment.completed
//
// Kafka настраивается теми же переменными, что и сервис (KAFKA_BROKERS, KAFKA_ORDER_TOPIC),
// Redis берётся из REDIS_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformkafka "github.com/shestoi/mimo-inventory/platform/kafka"
	platformlogging "github.com/shestoi/mimo-inventory/platform/logging"

	kafkaevent "github.com/shestoi/mimo-inventory/internal/event/kafka"
	"github.com/shestoi/mimo-inventory/internal/session"
)

const commandTimeout = 5 * time.Second

func main() {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "inventoryctl",
		Env:         "local",
		Level:       os.Getenv("LOG_LEVEL"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer platformlogging.Sync(logger)

	if err := newRootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "inventoryctl",
		Short:         "Local development helper for the inventory service",
		SilenceUsage:  true,
	}
	root.AddCommand(newSessionCommand(), newEventCommand(logger))
	return root
}

func newSessionCommand() *cobra.Command {
	var (
		userID    string
		redisAddr string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue a session id resolvable by the inventory HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
			defer client.Close()

			sid, err := session.IssueDevSession(ctx, client, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sid)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id stored in the session")
	cmd.Flags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:16379"), "redis address")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "session lifetime, 0 disables expiry")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newEventCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish an order event consumed by the inventory service",
	}
	cmd.AddCommand(
		newPublishCommand(logger, "cancel", kafkaevent.EventCheckoutCancelled, "Cancel checkout: return the user's holds to stock"),
		newPublishCommand(logger, "paid", kafkaevent.EventOrderPaid, "Order paid: write the user's holds off"),
	)
	return cmd
}

func newPublishCommand(logger *zap.Logger, use, eventType, short string) *cobra.Command {
	var event kafkaevent.OrderEvent
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := platformkafka.DefaultConfig()
			if err := platformkafka.LoadEnv(&cfg); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			producer := kafkaevent.NewOrderEventProducer(logger, cfg.Brokers, cfg.OrderTopic)
			defer func() {
				if err := producer.Close(); err != nil {
					logger.Error("failed to close kafka writer", zap.Error(err))
				}
			}()

			event.EventType = eventType
			sent, err := producer.Publish(ctx, event)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sent.EventID)
			return nil
		},
	}
	cmd.Flags().StringVar(&event.UserID, "user", "", "user whose holds are released")
	cmd.Flags().StringVar(&event.OrderID, "order", "", "order id, used as the message key")
	cmd.Flags().StringVar(&event.EventID, "event-id", "", "explicit event id to test idempotency")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
