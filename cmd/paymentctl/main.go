package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/order-reconciler/internal/adapter/handler"
	"github.com/rl1809/order-reconciler/internal/adapter/storage"
	"github.com/rl1809/order-reconciler/internal/config"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/signature"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tools for the order reconciler",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(signConfirmationCmd())
	rootCmd.AddCommand(signWebhookCmd())
	rootCmd.AddCommand(sendWebhookCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

func signConfirmationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-confirmation [order id] [payment id]",
		Short: "Print the checkout signature for a gateway order and payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd, "RAZORPAY_KEY_SECRET")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(signature.ConfirmationMessage(args[0], args[1]), secret))
			return nil
		},
	}

	cmd.Flags().String("secret", "", "Key secret (default $RAZORPAY_KEY_SECRET)")

	return cmd
}

func signWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-webhook [file]",
		Short: "Print the webhook signature of a body read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd, "RAZORPAY_WEBHOOK_SECRET")
			if err != nil {
				return err
			}

			var body []byte
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return nil
		},
	}

	cmd.Flags().String("secret", "", "Webhook secret (default $RAZORPAY_WEBHOOK_SECRET)")

	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [request.json]",
		Short: "Submit a payment confirmation over gRPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			var req domain.ConfirmationRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := handler.NewPaymentServiceClient(conn).VerifyPayment(ctx, &req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().String("addr", "localhost:50051", "gRPC server address")
	cmd.Flags().Duration("timeout", 15*time.Second, "Request timeout")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the orders schema in the configured MySQL database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := sql.Open("mysql", cfg.MySQLDSN)
			if err != nil {
				return fmt.Errorf("open mysql: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func secretFlag(cmd *cobra.Command, env string) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv(env)
	}
	if secret == "" {
		return "", fmt.Errorf("no secret: pass --secret or set %s", env)
	}
	return secret, nil
}
