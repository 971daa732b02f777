package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

// Flags shared by every subcommand.
var (
	brokerFlag   string
	instanceFlag string
	timeoutFlag  time.Duration
)

var rootCmd = &cobra.Command{
	Use:     "sentryctl",
	Short:   "Control client for the sentry detection daemon",
	Version: Version,
	Long: `sentryctl drives a running sentryd instance over its MQTT control
plane: session lifecycle, single-shot and batch detection, and a live
view of the alert and event topics.`,
	SilenceUsage: true,
}

func main() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&brokerFlag, "broker", "localhost:1883", "MQTT broker host:port")
	rootCmd.PersistentFlags().StringVar(&instanceFlag, "instance", "sentry-01", "Target sentry instance id")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 60*time.Second, "How long to wait for a command response")
}
